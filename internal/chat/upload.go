package chat

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/shopspring/decimal"

	"github.com/dyike/DFUChat/internal/api"
)

// MaxImageBytes is the largest image the backend accepts.
const MaxImageBytes = 5 << 20

var allowedImageTypes = []string{"image/jpeg", "image/png"}

// ValidateImage sniffs the content type and enforces the size limit. The
// returned image carries the detected content type.
func ValidateImage(img api.Image) (api.Image, error) {
	if len(img.Data) == 0 {
		return img, &UploadValidationFailure{Reason: "file is empty"}
	}
	if len(img.Data) > MaxImageBytes {
		return img, &UploadValidationFailure{Reason: fmt.Sprintf("file is %s, the limit is 5 MB", humanSize(len(img.Data)))}
	}

	mt := mimetype.Detect(img.Data)
	supported := false
	for _, t := range allowedImageTypes {
		if mt.Is(t) {
			supported = true
			break
		}
	}
	if !supported {
		return img, &UploadValidationFailure{Reason: fmt.Sprintf("only JPEG and PNG images are supported, got %s", mt.String())}
	}

	img.ContentType = mt.String()
	if strings.TrimSpace(img.Name) == "" {
		img.Name = "upload" + mt.Extension()
	}
	return img, nil
}

// summarizeUpload is the assistant text for an image reply. The backend's own
// message wins; otherwise one is built from the prediction.
func summarizeUpload(res api.UploadResult) string {
	if msg := strings.TrimSpace(res.AssistantMessage); msg != "" {
		return msg
	}
	p := res.Prediction
	if p.IsFoot != nil && !*p.IsFoot {
		return "The image does not appear to show a foot. Please upload a clear photo of the affected area."
	}
	if p.Severity == "" {
		return "The image was received but no severity could be determined."
	}

	summary := "Estimated severity: " + p.Severity
	if p.Confidence.Valid {
		conf := p.Confidence.Decimal
		if conf.LessThanOrEqual(decimal.NewFromInt(1)) {
			conf = conf.Mul(decimal.NewFromInt(100))
		}
		summary += fmt.Sprintf(" (confidence %s%%)", conf.Round(1).StringFixed(1))
	}
	return summary + "."
}

func humanSize(n int) string {
	return decimal.NewFromInt(int64(n)).Div(decimal.NewFromInt(1 << 20)).Round(1).StringFixed(1) + " MB"
}
