package utils

// -----------------------------------------------------------------------------

// Rolling windows, in calendar days ending on the as-of day (inclusive).
const (
	Window7d  = 7
	Window30d = 30

	// LookbackDays covers the current and prior 30-day windows plus the D-1
	// lifetime total needed for the first day's delta.
	LookbackDays = 60

	DefaultRetentionDays = 400
	DefaultListingCap    = 500
)
