package pages

import (
	"context"
	"regexp"

	"github.com/v0xg/astarcheck/internal/browser"
	"github.com/v0xg/astarcheck/internal/fakedata"
	"github.com/v0xg/astarcheck/internal/walker"
)

// BookAppointmentPage is the appointment booking form.
type BookAppointmentPage struct {
	runner *Runner
	gen    *fakedata.Generator
}

func NewBookAppointmentPage(r *Runner, gen *fakedata.Generator) *BookAppointmentPage {
	return &BookAppointmentPage{runner: r, gen: gen}
}

// Book fills the form for tomorrow and stops at the OTP prompt.
func (p *BookAppointmentPage) Book(ctx context.Context) (*walker.Result, error) {
	p.runner.Logger.Info().Uint64("seed", p.gen.Seed).Msg("Booking an appointment")
	return p.runner.Run(ctx, p.Flow())
}

func (p *BookAppointmentPage) Flow() walker.Flow {
	return walker.Flow{Name: "book", Steps: []walker.Step{
		walker.Navigate("open booking page", "/book-appointment", regexp.MustCompile(`(?i)Book Appointment`)),
		walker.Fill("date", p.gen.Tomorrow(), browser.CSS(`input[type="date"]`)),
		walker.Select("time slot", 1, browser.Label("Select Time Slot")),
		walker.Select("loan type", 1, browser.Label("Select Loan Type")),
		walker.Fill("mobile", p.gen.Mobile(), browser.Role("textbox", "+")),
		walker.Click("get otp", browser.Role("button", "Get OTP")),
		walker.Assert("otp prompt", browser.Role("heading", "Verify Your OTP")).AsCheckpoint(),
	}}
}
