package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
)

// CodeIssuer hands out the boarding code shown to the passenger at
// confirmation. Delivery of the code is the issuer's business.
type CodeIssuer interface {
	IssueCode(ctx context.Context, rideID string) (string, error)
}

const (
	codeMin = 100000
	codeMax = 999999
)

// RandomCodeIssuer returns uniformly random six-digit codes.
type RandomCodeIssuer struct{}

func (RandomCodeIssuer) IssueCode(ctx context.Context, rideID string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("issue code for %s: %w", rideID, err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}
