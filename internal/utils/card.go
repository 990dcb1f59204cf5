package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	CardNumberLength    = 16
	AccountNumberLength = 10
)

// randomDigits returns n uniformly distributed decimal digits.
func randomDigits(n int) (string, error) {
	var b strings.Builder
	ten := big.NewInt(10)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("failed to generate random digit: %w", err)
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

// GenerateCardNumber returns a 16 digit card number starting with bin and
// ending with a Luhn check digit.
func GenerateCardNumber(bin string) (string, error) {
	if bin == "" || len(bin) >= CardNumberLength || !isDigits(bin) {
		return "", fmt.Errorf("invalid card BIN: %q", bin)
	}

	body, err := randomDigits(CardNumberLength - len(bin) - 1)
	if err != nil {
		return "", err
	}

	partial := bin + body
	return partial + string(byte('0'+luhnCheckDigit(partial))), nil
}

// GenerateAccountNumber returns a random 10 digit account number without a leading zero.
func GenerateAccountNumber() (string, error) {
	first, err := rand.Int(rand.Reader, big.NewInt(9))
	if err != nil {
		return "", fmt.Errorf("failed to generate random digit: %w", err)
	}
	rest, err := randomDigits(AccountNumberLength - 1)
	if err != nil {
		return "", err
	}
	return string(byte('1'+first.Int64())) + rest, nil
}

// ValidLuhn reports whether number passes the Luhn checksum.
func ValidLuhn(number string) bool {
	if len(number) < 2 || !isDigits(number) {
		return false
	}
	return luhnCheckDigit(number[:len(number)-1]) == int(number[len(number)-1]-'0')
}

func luhnCheckDigit(partial string) int {
	sum := 0
	double := true
	for i := len(partial) - 1; i >= 0; i-- {
		d := int(partial[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return (10 - sum%10) % 10
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// MaskCardNumber keeps the first six and last four digits.
func MaskCardNumber(number string) string {
	if len(number) <= 10 {
		return strings.Repeat("*", len(number))
	}
	return number[:6] + strings.Repeat("*", len(number)-10) + number[len(number)-4:]
}

// GenerateExpiryDate returns an MM/YY expiry date three years after now
func GenerateExpiryDate(now time.Time) string {
	return fmt.Sprintf("%02d/%02d", now.Month(), (now.Year()+3)%100)
}

// GenerateCVV generates a 3-digit CVV code
func GenerateCVV() (string, error) {
	return randomDigits(3)
}

// GenerateHMAC signs the card details with secret
func GenerateHMAC(cardNumber, expiryDate, cvv, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(cardNumber + expiryDate + cvv))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHMAC reports whether mac matches the card details.
func VerifyHMAC(cardNumber, expiryDate, cvv, secret, mac string) bool {
	expected := GenerateHMAC(cardNumber, expiryDate, cvv, secret)
	return hmac.Equal([]byte(expected), []byte(mac))
}

func checkKey(key []byte) error {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return fmt.Errorf("key must be 16, 24, or 32 bytes, got %d", len(key))
	}
	return nil
}

// Encrypt encrypts data with AES-CBC and returns hex(IV || ciphertext)
func Encrypt(data string, key []byte) (string, error) {
	if data == "" {
		return "", fmt.Errorf("input data is empty")
	}
	if err := checkKey(key); err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	out := make([]byte, aes.BlockSize)
	if _, err := rand.Read(out); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	plain := pkcs7Pad([]byte(data), aes.BlockSize)
	ciphertext := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, out).CryptBlocks(ciphertext, plain)

	return hex.EncodeToString(append(out, ciphertext...)), nil
}

// Decrypt reverses Encrypt
func Decrypt(encrypted string, key []byte) (string, error) {
	if encrypted == "" {
		return "", fmt.Errorf("encrypted data is empty")
	}
	if err := checkKey(key); err != nil {
		return "", err
	}

	data, err := hex.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decode hex: %w", err)
	}
	if len(data) < 2*aes.BlockSize || len(data)%aes.BlockSize != 0 {
		return "", fmt.Errorf("invalid ciphertext length: %d bytes", len(data))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	iv, ciphertext := data[:aes.BlockSize], data[aes.BlockSize:]
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	unpadded, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	for i := 0; i < n; i++ {
		b = append(b, byte(n))
	}
	return b
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > size {
		return nil, fmt.Errorf("invalid padding value: %d", n)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("invalid padding bytes")
		}
	}
	return b[:len(b)-n], nil
}
