package qr

import (
	"encoding/json"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

const imageSize = 256

type payload struct {
	CompanyName string `json:"company_name"`
	ProductName string `json:"product_name"`
	ProductCode string `json:"product_code"`
}

// Encode renders a PNG QR code carrying the product identity. The product
// code defaults to the product name when absent, matching the record's
// legacy-field precedence.
func Encode(companyName, productName, productCode string) ([]byte, error) {
	if productCode == "" {
		productCode = productName
	}
	data, err := json.Marshal(payload{
		CompanyName: companyName,
		ProductName: productName,
		ProductCode: productCode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal qr payload: %w", err)
	}

	png, err := qrcode.Encode(string(data), qrcode.Low, imageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}
	return png, nil
}
