package imgrec

import (
	"io"

	"github.com/astrogo/fitsio"

	"github.com/monocle-imaging/monocle/reconstruct"
)

// WriteFITS streams a reconstructed image to w as a single 32-bit float HDU
func WriteFITS(w io.Writer, metadata []fitsio.Card, img *reconstruct.Image) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(-32, []int{img.Width, img.Height})
	defer im.Close()
	min, max := img.MinMax()
	metadata = append(metadata,
		fitsio.Card{Name: "DATAMIN", Value: float64(min), Comment: "smallest mean rate"},
		fitsio.Card{Name: "DATAMAX", Value: float64(max), Comment: "largest mean rate"})
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}
	err = im.Write(img.Pix)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
