package signup

import (
	"math/rand"
	"time"

	"github.com/pquerna/otp/totp"
)

var PASSWORD_CHARSET = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"

var (
	firstNames = []string{
		"Emma", "Liam", "Olivia", "Noah", "Ava",
		"William", "Sophia", "James", "Isabella", "Oliver",
	}
	lastNames = []string{
		"Smith", "Johnson", "Williams", "Brown", "Jones",
		"Garcia", "Miller", "Davis", "Rodriguez", "Martinez",
	}
)

func randomPassword(length int) string {
	out := make([]byte, length)
	for i := range out {
		out[i] = PASSWORD_CHARSET[rand.Intn(len(PASSWORD_CHARSET))]
	}
	return string(out)
}

func randomName() (first, last string) {
	return firstNames[rand.Intn(len(firstNames))], lastNames[rand.Intn(len(lastNames))]
}

func totpCode(secret string) (string, error) {
	return totp.GenerateCode(secret, time.Now())
}
