/*Package archive stores a sample log as a CBOR blob.

The blob is a map holding the scan resolution, the window length and the
samples, each sample packed as a five element array.  A CRC-32 over the
samples' packed words travels with them and is checked on read.
*/
package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/snksoft/crc"

	"github.com/monocle-imaging/monocle/acquisition"
	"github.com/monocle-imaging/monocle/pulsecounter"
	"github.com/monocle-imaging/monocle/scanline"
)

// Version is written into every archive
const Version = 1

// ErrChecksum is generated when an archive's samples do not match its checksum
var ErrChecksum = errors.New("archive checksum mismatch")

var crcTable = crc.NewTable(crc.CRC32)

// Record is one sample, encoded as [frame, scanFrame, scanLine, overlight, count]
type Record struct {
	_         struct{} `cbor:",toarray"`
	Frame     uint32
	ScanFrame uint32
	ScanLine  uint32
	Overlight bool
	Count     uint32
}

// Archive is the stored form of one acquisition
type Archive struct {
	Version    int               `cbor:"1,keyasint"`
	Resolution uint32            `cbor:"2,keyasint"`
	WindowUS   int64             `cbor:"3,keyasint"`
	Taken      time.Time         `cbor:"4,keyasint"`
	Mark       *acquisition.Mark `cbor:"5,keyasint,omitempty"`
	Samples    []Record          `cbor:"6,keyasint"`
	Checksum   uint32            `cbor:"7,keyasint"`
}

// New packs a sample log taken on a resolution x resolution grid
func New(samples []acquisition.Sample, resolution uint32, window time.Duration) *Archive {
	a := &Archive{
		Version:    Version,
		Resolution: resolution,
		WindowUS:   window.Microseconds(),
		Taken:      time.Now().UTC(),
		Samples:    make([]Record, len(samples)),
	}
	for i, s := range samples {
		a.Samples[i] = Record{
			Frame:     s.Frame,
			ScanFrame: s.Position.Frame,
			ScanLine:  s.Position.Line,
			Overlight: s.Reading.Overlight,
			Count:     s.Reading.Count,
		}
	}
	a.Checksum = Checksum(a.Samples)
	return a
}

// Window is the sampling window the log was taken with
func (a *Archive) Window() time.Duration {
	return time.Duration(a.WindowUS) * time.Microsecond
}

// SampleLog unpacks the records
func (a *Archive) SampleLog() []acquisition.Sample {
	out := make([]acquisition.Sample, len(a.Samples))
	for i, r := range a.Samples {
		out[i] = acquisition.Sample{
			Frame:    r.Frame,
			Position: scanline.Position{Frame: r.ScanFrame, Line: r.ScanLine},
			Reading:  pulsecounter.Reading{Overlight: r.Overlight, Count: r.Count},
		}
	}
	return out
}

// Checksum is the CRC-32 of the records packed as little-endian words
func Checksum(records []Record) uint32 {
	c := crcTable.InitCrc()
	buf := make([]byte, 0, 16)
	for _, r := range records {
		count := r.Count
		if r.Overlight {
			count |= 1 << 31
		}
		buf = buf[:0]
		buf = binary.LittleEndian.AppendUint32(buf, r.Frame)
		buf = binary.LittleEndian.AppendUint32(buf, r.ScanFrame)
		buf = binary.LittleEndian.AppendUint32(buf, r.ScanLine)
		buf = binary.LittleEndian.AppendUint32(buf, count)
		c = crcTable.UpdateCrc(c, buf)
	}
	return crcTable.CRC32(c)
}

// Write encodes a to w
func Write(w io.Writer, a *Archive) error {
	return cbor.NewEncoder(w).Encode(a)
}

// Read decodes an archive from r and verifies its checksum
func Read(r io.Reader) (*Archive, error) {
	a := new(Archive)
	if err := cbor.NewDecoder(r).Decode(a); err != nil {
		return nil, err
	}
	if sum := Checksum(a.Samples); sum != a.Checksum {
		return nil, fmt.Errorf("%w: stored %08X, computed %08X", ErrChecksum, a.Checksum, sum)
	}
	return a, nil
}
