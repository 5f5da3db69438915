// Package fakedata generates throwaway applicant details for form walkers.
package fakedata

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Generator produces random but plausible form input. It is not safe for
// concurrent use.
type Generator struct {
	rng *rand.Rand
	now func() time.Time
	// Seed is the seed the generator was built with, logged so a failing
	// run can be replayed.
	Seed uint64
}

// New returns a generator. A zero seed picks a random one.
func New(seed uint64) *Generator {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Generator{
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:  time.Now,
		Seed: seed,
	}
}

// WithClock fixes the generator's notion of today.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// String returns n random ASCII letters.
func (g *Generator) String(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(letters[g.rng.IntN(len(letters))])
	}
	return b.String()
}

// Email returns a random address at example.com.
func (g *Generator) Email() string {
	return g.String(10) + "@example.com"
}

// Mobile returns an Australian mobile number: 04 followed by eight digits.
func (g *Generator) Mobile() string {
	return fmt.Sprintf("04%08d", g.rng.IntN(100_000_000))
}

// Number returns an integer in [min, max].
func (g *Generator) Number(min, max int) int {
	if max <= min {
		return min
	}
	return min + g.rng.IntN(max-min+1)
}

// DateOfBirth returns dd/mm/yyyy between 1970 and 2000. Days stop at 28 so
// every month is valid.
func (g *Generator) DateOfBirth() string {
	return fmt.Sprintf("%02d/%02d/%d", g.Number(1, 28), g.Number(1, 12), g.Number(1970, 2000))
}

// Tomorrow returns tomorrow's date as YYYY-MM-DD, the format date inputs take.
func (g *Generator) Tomorrow() string {
	return g.now().AddDate(0, 0, 1).Format(time.DateOnly)
}

// Pick returns one of options.
func Pick[T any](g *Generator, options ...T) T {
	return options[g.rng.IntN(len(options))]
}

// Applicant is the personal detail block every funnel asks for.
type Applicant struct {
	FirstName   string
	LastName    string
	Email       string
	Mobile      string
	DateOfBirth string
}

// Applicant returns a random applicant.
func (g *Generator) Applicant() Applicant {
	return Applicant{
		FirstName:   g.String(8),
		LastName:    g.String(10),
		Email:       g.Email(),
		Mobile:      g.Mobile(),
		DateOfBirth: g.DateOfBirth(),
	}
}
