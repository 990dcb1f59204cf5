package utils

import (
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey, _ = hex.DecodeString("a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6")

func TestGenerateCardNumber(t *testing.T) {
	for i := 0; i < 50; i++ {
		n, err := GenerateCardNumber("400000")
		require.NoError(t, err)
		require.Len(t, n, CardNumberLength)
		require.True(t, strings.HasPrefix(n, "400000"))
		require.True(t, ValidLuhn(n), n)
	}

	_, err := GenerateCardNumber("")
	require.Error(t, err)
	_, err = GenerateCardNumber("40ab")
	require.Error(t, err)
}

func TestValidLuhn(t *testing.T) {
	assert.True(t, ValidLuhn("4111111111111111"))
	assert.True(t, ValidLuhn("79927398713"))
	assert.False(t, ValidLuhn("4111111111111112"))
	assert.False(t, ValidLuhn("4111-1111"))
	assert.False(t, ValidLuhn("4"))
}

func TestGenerateAccountNumber(t *testing.T) {
	n, err := GenerateAccountNumber()
	require.NoError(t, err)
	require.Len(t, n, AccountNumberLength)
	require.NotEqual(t, byte('0'), n[0])
}

func TestMaskCardNumber(t *testing.T) {
	assert.Equal(t, "411111******1111", MaskCardNumber("4111111111111111"))
	assert.Equal(t, "****", MaskCardNumber("1234"))
}

func TestGenerateExpiryDate(t *testing.T) {
	now := time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "03/29", GenerateExpiryDate(now))
}

func TestGenerateCVV(t *testing.T) {
	cvv, err := GenerateCVV()
	require.NoError(t, err)
	require.Len(t, cvv, 3)
}

func TestHMAC(t *testing.T) {
	mac := GenerateHMAC("4111111111111111", "03/29", "123", "secret")
	assert.True(t, VerifyHMAC("4111111111111111", "03/29", "123", "secret", mac))
	assert.False(t, VerifyHMAC("4111111111111111", "03/29", "124", "secret", mac))
}

func TestEncryptDecrypt(t *testing.T) {
	for _, plain := range []string{"4111111111111111", "03/29", "exactly16bytes!!"} {
		enc, err := Encrypt(plain, testKey)
		require.NoError(t, err)
		require.NotContains(t, enc, plain)

		dec, err := Decrypt(enc, testKey)
		require.NoError(t, err)
		require.Equal(t, plain, dec)
	}
}

func TestEncryptDecrypt_Errors(t *testing.T) {
	_, err := Encrypt("", testKey)
	require.Error(t, err)
	_, err = Encrypt("data", []byte("short"))
	require.Error(t, err)
	_, err = Decrypt("zz", testKey)
	require.Error(t, err)
	_, err = Decrypt("00", testKey)
	require.Error(t, err)
}
