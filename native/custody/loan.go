package custody

// LoanGuard tracks capability tokens handed to untrusted code for the duration
// of one call. The counter must return to zero before the call commits any
// state; an outstanding loan fails the whole call with no partial effect.
type LoanGuard struct {
	outstanding int
}

// Borrow records one loaned token.
func (g *LoanGuard) Borrow() {
	g.outstanding++
}

// Return records one returned token.
func (g *LoanGuard) Return() error {
	if g.outstanding == 0 {
		return ErrNoLoan
	}
	g.outstanding--
	return nil
}

// Outstanding reports the number of unreturned loans.
func (g *LoanGuard) Outstanding() int {
	return g.outstanding
}

// WithLoan runs fn with a fresh guard. If fn returns with loans still
// outstanding the call fails, regardless of fn's own result, so callers can
// run it before committing any state.
func WithLoan(fn func(g *LoanGuard) error) error {
	g := &LoanGuard{}
	if err := fn(g); err != nil {
		return err
	}
	if g.outstanding != 0 {
		return ErrOutstandingLoan
	}
	return nil
}

