package qr

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeProducesPNG(t *testing.T) {
	data, err := Encode("Acme", "Widget", "W-100")
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, imageSize, img.Bounds().Dx())
	require.Equal(t, imageSize, img.Bounds().Dy())
}

func TestEncodeDefaultsProductCode(t *testing.T) {
	withCode, err := Encode("Acme", "Widget", "Widget")
	require.NoError(t, err)
	withoutCode, err := Encode("Acme", "Widget", "")
	require.NoError(t, err)
	require.Equal(t, withCode, withoutCode)
}
