package console

const (
	// Default terminal width in characters.
	defaultTermWidth = 80
	// Width of the rule printed under section titles, capped by the terminal width.
	maxRuleWidth = 60
)
