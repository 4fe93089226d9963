package services

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	adminPasswordLen = 12
	symbols          = "!@#$%&*"
	upperLetters     = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	lowerLetters     = "abcdefghijkmnopqrstuvwxyz"
	digits           = "23456789"
)

// GenerateAdminPassword returns a random password with at least one
// uppercase letter, lowercase letter, digit and symbol. Look-alike
// characters are left out. Do not log the returned string.
func GenerateAdminPassword() (string, error) {
	pick := func(s string) (byte, error) {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(s))))
		if err != nil {
			return 0, err
		}
		return s[n.Int64()], nil
	}
	classes := []string{upperLetters, lowerLetters, digits, symbols}
	all := upperLetters + lowerLetters + digits + symbols

	result := make([]byte, adminPasswordLen)
	for i := range result {
		set := all
		if i < len(classes) {
			set = classes[i]
		}
		c, err := pick(set)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		result[i] = c
	}
	// Fisher-Yates with crypto/rand
	for i := len(result) - 1; i >= 1; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("shuffle: %w", err)
		}
		j := int(n.Int64())
		result[i], result[j] = result[j], result[i]
	}
	return string(result), nil
}
