package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	"golang.org/x/image/draw"
)

const (
	// maxImageWidth bounds the width sent to the vision model; receipts stay
	// legible well below phone camera resolution
	maxImageWidth = 1024
	jpegQuality   = 70
)

// ErrUnsupportedImage means the upload could not be decoded as a receipt image
var ErrUnsupportedImage = errors.New("unsupported image format")

// itemsPrompt is the shared prompt used by all LLM providers for reading line items
const itemsPrompt = `Extract all line items from this receipt.

Return ONLY a JSON array of objects, each with:
- "description": the name of the item purchased
- "price": the price of the item as a number (e.g., 4.50 for $4.50)

Important:
- Ignore subtotal, tax, tip, and total lines; only list the purchased items
- If a price is not clear, estimate it or use 0
- If there are no items, return []
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// pdfToImage renders the first page of a PDF
func pdfToImage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// Most receipts are a single page
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// decodeImage decodes a receipt in any supported format
func decodeImage(imageData []byte, mimeType string) (image.Image, error) {
	if mimeType == "application/pdf" || bytes.HasPrefix(imageData, []byte("%PDF")) {
		return pdfToImage(imageData)
	}

	// Go's standard image package doesn't support HEIC (common on iPhones)
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err := heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") || strings.Contains(err.Error(), "unsupported") {
			return nil, fmt.Errorf("%w. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", ErrUnsupportedImage, err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// downscale shrinks img to at most maxWidth pixels wide, keeping the aspect ratio
func downscale(img image.Image, maxWidth int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxWidth {
		return img
	}

	height = max(1, height*maxWidth/width)
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files carry an ftyp box at offset 4 with a HEIC-related brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1"
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// prepareImageData decodes a receipt, shrinks it, and re-encodes it as JPEG.
// Returns the JPEG data and its MIME type.
func prepareImageData(imageData []byte, contentType string) ([]byte, string, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	img, err := decodeImage(imageData, mimeType)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, downscale(img, maxImageWidth), &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}
