package pages

import (
	"context"
	"regexp"
	"strconv"

	"github.com/v0xg/astarcheck/internal/browser"
	"github.com/v0xg/astarcheck/internal/fakedata"
	"github.com/v0xg/astarcheck/internal/walker"
)

// ApplyLoanPage is the "apply for a home loan" funnel.
type ApplyLoanPage struct {
	runner *Runner
	gen    *fakedata.Generator
}

func NewApplyLoanPage(r *Runner, gen *fakedata.Generator) *ApplyLoanPage {
	return &ApplyLoanPage{runner: r, gen: gen}
}

// Apply fills the funnel up to the SMS verification prompt.
func (p *ApplyLoanPage) Apply(ctx context.Context) (*walker.Result, error) {
	p.runner.Logger.Info().Uint64("seed", p.gen.Seed).Msg("Applying for a home loan")
	return p.runner.Run(ctx, p.Flow())
}

// Flow returns the steps with fresh random input.
func (p *ApplyLoanPage) Flow() walker.Flow {
	price := p.gen.Number(500_000, 2_000_000)
	deposit := price / 4
	applicant := p.gen.Applicant()
	next := browser.Role("button", "Next")

	return walker.Flow{Name: "apply", Steps: []walker.Step{
		walker.Navigate("open apply page", "/apply-now", regexp.MustCompile(`(?i)Apply Now`)),
		walker.Click("buy a home", browser.Text("I want to buy a home")),
		walker.Fill("purchase price", strconv.Itoa(price), browser.Role("textbox", "Expected Purchase")),
		walker.Click("next after price", next),
		walker.Fill("deposit", strconv.Itoa(deposit), browser.Role("textbox", "Deposits")),
		walker.Click("next after deposit", next),
		walker.Click("buying stage", browser.Role("button", "Just exploring options")),
		walker.Click("first home buyer", browser.RoleExact("button", fakedata.Pick(p.gen, "Yes", "No"))),
		walker.Click("timeline", browser.Role("button", "-6 Months")),
		walker.Click("property type", browser.Role("button", "Established home")),
		walker.Click("occupancy", browser.Role("button", "I will live there")),
		walker.Click("credit history", browser.Role("button", "Excellent")),
		walker.Click("income", browser.Role("button", "I'm an employee")),
		walker.Fill("first name", applicant.FirstName, browser.Placeholder("First Name")),
		walker.Fill("last name", applicant.LastName, browser.Placeholder("Last Name")),
		walker.Fill("email", applicant.Email, browser.Placeholder("Email Address")),
		walker.Fill("mobile", applicant.Mobile, browser.Placeholder("Mobile Number")),
		walker.Click("assess", browser.Role("button", "Assess my options")),
		walker.Assert("sms verification", browser.Role("heading", "SMS Verification!")).AsCheckpoint(),
	}}
}
