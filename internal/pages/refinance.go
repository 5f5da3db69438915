package pages

import (
	"context"
	"strconv"
	"time"

	"github.com/v0xg/astarcheck/internal/browser"
	"github.com/v0xg/astarcheck/internal/fakedata"
	"github.com/v0xg/astarcheck/internal/walker"
)

// The refinance funnel is rebuilt often, so its selectors match loosely
// (substring, case-insensitive) and every answer is followed by the
// section's next button.
var (
	refinanceNext = browser.RolePattern("button", "next|continue|proceed")

	loanAmountInput = []browser.Selector{
		browser.CSS(`[id*="loan" i][type="text"], [data-testid*="loan" i], input[placeholder*="loan" i]`),
		browser.Placeholder("loan"),
	}
	propertyValueInput = []browser.Selector{
		browser.CSS(`[id*="property" i][type="text"], [data-testid*="property" i], input[placeholder*="property" i]`),
		browser.Placeholder("property"),
	}
	firstNameInput = []browser.Selector{
		browser.CSS(`input[name*="first" i], input[placeholder*="first" i], input[aria-label*="first" i]`),
		browser.Placeholder("first"),
		browser.Label("first"),
	}
	lastNameInput = []browser.Selector{
		browser.CSS(`input[name*="last" i], input[placeholder*="last" i], input[aria-label*="last" i]`),
		browser.Placeholder("last"),
		browser.Label("last"),
	}
	emailInput = []browser.Selector{
		browser.CSS(`input[type="email"], input[name*="email" i], input[placeholder*="email" i]`),
		browser.Placeholder("email"),
	}
	mobileInput = []browser.Selector{
		browser.CSS(`input[type="tel"], input[name*="phone" i], input[placeholder*="mobile" i], input[placeholder*="phone" i]`),
		browser.Placeholder("mobile"),
		browser.Placeholder("phone"),
	}
	otpScreen = []browser.Selector{
		browser.CSS(`input[type="number"], input[placeholder*="code" i], input[placeholder*="verification" i], input[placeholder*="otp" i]`),
		browser.TextPattern("verification code|one-time code|OTP|verify your"),
	}
)

// RefinanceLoanPage is the refinance funnel.
type RefinanceLoanPage struct {
	runner *Runner
	gen    *fakedata.Generator
}

func NewRefinanceLoanPage(r *Runner, gen *fakedata.Generator) *RefinanceLoanPage {
	return &RefinanceLoanPage{runner: r, gen: gen}
}

// Refinance fills the funnel up to the OTP screen.
func (p *RefinanceLoanPage) Refinance(ctx context.Context) (*walker.Result, error) {
	p.runner.Logger.Info().Uint64("seed", p.gen.Seed).Msg("Starting refinance application")
	return p.runner.Run(ctx, p.Flow())
}

func (p *RefinanceLoanPage) Flow() walker.Flow {
	loan := p.gen.Number(200_000, 1_500_000)
	property := p.gen.Number(300_000, 2_000_000)
	applicant := p.gen.Applicant()

	// answer clicks an option button and then the section's next button.
	answer := func(name, pattern string) []walker.Step {
		return []walker.Step{
			walker.Click(name, browser.RolePattern("button", pattern)),
			walker.Click("next after "+name, refinanceNext),
		}
	}

	steps := []walker.Step{
		walker.Navigate("open refinance page", "/refinance-home-loan", nil).WithRetry(3, 5*time.Second),
		walker.Assert("refinance heading", browser.RolePattern("heading", "refinance|loan")),
		walker.Click("refinance link", browser.CSS(`a[href*="refinance"]`)),
		walker.Click("start application", browser.RolePattern("button", "start|begin|apply|continue")).AsOptional(),
		walker.Fill("loan amount", strconv.Itoa(loan), loanAmountInput...),
		walker.Click("next after loan amount", refinanceNext),
		walker.Fill("property value", strconv.Itoa(property), propertyValueInput...),
		walker.Click("next after property value", refinanceNext),
	}
	steps = append(steps, answer("situation", "Just exploring options")...)
	steps = append(steps, answer("first home buyer", "^No$")...)
	steps = append(steps, answer("timeline", "-6 Months")...)
	steps = append(steps, answer("credit history", "Excellent")...)
	steps = append(steps, answer("income", "employee")...)
	steps = append(steps,
		walker.Fill("first name", applicant.FirstName, firstNameInput...),
		walker.Fill("last name", applicant.LastName, lastNameInput...),
		walker.Fill("email", applicant.Email, emailInput...),
		walker.Fill("mobile", applicant.Mobile, mobileInput...),
		walker.Click("next after details", refinanceNext),
		walker.Assert("otp screen", otpScreen...).WithTimeout(20*time.Second).AsCheckpoint(),
	)
	return walker.Flow{Name: "refinance", Steps: steps}
}
