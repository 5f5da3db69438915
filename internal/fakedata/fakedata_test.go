package fakedata

import (
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

var (
	mobileRe = regexp.MustCompile(`^04\d{8}$`)
	dobRe    = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4})$`)
	emailRe  = regexp.MustCompile(`^[A-Za-z]{10}@example\.com$`)
)

func TestFormats(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		g := New(rapid.Uint64Min(1).Draw(t, "seed"))

		if m := g.Mobile(); !mobileRe.MatchString(m) {
			t.Fatalf("mobile %q", m)
		}
		if e := g.Email(); !emailRe.MatchString(e) {
			t.Fatalf("email %q", e)
		}
		parts := dobRe.FindStringSubmatch(g.DateOfBirth())
		if parts == nil {
			t.Fatalf("dob format")
		}
		day, _ := strconv.Atoi(parts[1])
		month, _ := strconv.Atoi(parts[2])
		year, _ := strconv.Atoi(parts[3])
		if day < 1 || day > 28 || month < 1 || month > 12 || year < 1970 || year > 2000 {
			t.Fatalf("dob out of range: %v", parts)
		}

		lo := rapid.IntRange(-1000, 1000).Draw(t, "lo")
		hi := lo + rapid.IntRange(0, 1000).Draw(t, "span")
		if n := g.Number(lo, hi); n < lo || n > hi {
			t.Fatalf("%d outside [%d, %d]", n, lo, hi)
		}
	})
}

func TestSeedIsReproducible(t *testing.T) {
	a, b := New(42), New(42)
	assert.Equal(t, a.Applicant(), b.Applicant())
	assert.Equal(t, uint64(42), a.Seed)
	assert.NotZero(t, New(0).Seed)
}

func TestTomorrow(t *testing.T) {
	g := New(1).WithClock(func() time.Time { return time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC) })
	assert.Equal(t, "2025-01-01", g.Tomorrow())
}

func TestPick(t *testing.T) {
	g := New(7)
	for i := 0; i < 50; i++ {
		assert.Contains(t, []string{"Yes", "No"}, Pick(g, "Yes", "No"))
	}
	assert.Len(t, g.String(12), 12)
	assert.Equal(t, "", strings.TrimLeft(g.String(5), letters))
}
