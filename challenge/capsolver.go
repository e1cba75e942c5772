package challenge

import (
	"fmt"
	"os"

	capsolver_go "github.com/capsolver/capsolver-go"
)

var CAPSOLVER_API_KEY = os.Getenv("CAPSOLVER_API_KEY")

// SolveToken asks the solver service for a turnstile response token,
// for pages that expose the sitekey instead of a clickable widget.
func SolveToken(siteKey, pageURL string) (string, error) {
	if CAPSOLVER_API_KEY == "" {
		return "", fmt.Errorf("CAPSOLVER_API_KEY is not configured")
	}
	if siteKey == "" {
		return "", fmt.Errorf("cannot solve challenge without a sitekey")
	}
	capSolver := capsolver_go.CapSolver{
		ApiKey: CAPSOLVER_API_KEY,
	}
	solution, err := capSolver.Solve(map[string]any{
		"type":       "AntiTurnstileTaskProxyLess",
		"websiteKey": siteKey,
		"websiteURL": pageURL,
	})
	if err != nil {
		return "", fmt.Errorf("solve challenge failed: %v", err)
	}
	return solution.Solution.Token, nil
}
