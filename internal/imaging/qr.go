package imaging

import (
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// QRDetector finds QR codes in decoded images.
type QRDetector interface {
	Detect(img image.Image) []string
}

// ZXingDetector implements QRDetector with the gozxing QR reader.
type ZXingDetector struct{}

// NewQRDetector returns the default detector.
func NewQRDetector() *ZXingDetector { return &ZXingDetector{} }

// Detect returns the text payloads of any QR codes found in img. A decode
// failure means no codes, never an error: callers treat undecodable input as
// a non-match.
func (ZXingDetector) Detect(img image.Image) []string {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	res, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil || res == nil {
		return nil
	}
	return []string{res.GetText()}
}
