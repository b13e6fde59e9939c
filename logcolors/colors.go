package logcolors

// ANSI color codes for log prefixes
const (
	Reset  = "\033[0m"
	Green  = "\033[32m"
	Blue   = "\033[34m"
	Purple = "\033[35m"
	Cyan   = "\033[36m"

	// Bright variants for more color variety
	BrightGreen   = "\033[92m"
	BrightBlue    = "\033[94m"
	BrightMagenta = "\033[95m"
	BrightCyan    = "\033[96m"

	// Red variants (for account names only)
	Red       = "\033[31m"
	BrightRed = "\033[91m"
)

// Cache-related log prefixes
const (
	LogCacheInit     = Blue + "[Cache:Init]" + Reset
	LogCache         = Blue + "[Cache]" + Reset
	LogCacheLyrics   = Green + "[Cache:Lyrics]" + Reset
	LogCacheNegative = Cyan + "[Cache:Negative]" + Reset
)

// Rate limiting log prefixes
const (
	LogRateLimit = Purple + "[RateLimit]" + Reset
	LogAPIKey    = Purple + "[APIKey]" + Reset
)

// CircuitBreakerPrefix returns a colored circuit breaker prefix with the given name
func CircuitBreakerPrefix(name string) string {
	return Purple + "[CircuitBreaker:" + name + "]" + Reset
}

// accountColors are the colors used for account names (rotating based on hash)
var accountColors = []string{
	Green, Blue, Purple, Cyan, Red,
	BrightGreen, BrightBlue, BrightMagenta, BrightCyan, BrightRed,
}

// Account returns a colored account name for log messages
// Same account name always gets the same color
func Account(name string) string {
	// Simple hash: sum of bytes mod number of colors
	hash := 0
	for _, c := range name {
		hash += int(c)
	}
	color := accountColors[hash%len(accountColors)]
	return color + name + Reset
}

// Server log prefixes
const (
	LogStats = Blue + "[Stats]" + Reset
)

// Provider service log prefixes
const (
	LogSearch     = Blue + "[Search]" + Reset
	LogMatch      = Green + "[Match]" + Reset
	LogSuccess    = Green + "[Success]" + Reset
	LogLyrics     = Blue + "[Lyrics]" + Reset
	LogQuarantine = Purple + "[Quarantine]" + Reset
	LogAuthError  = Purple + "[Auth Error]" + Reset
	LogFallback   = Cyan + "[Fallback]" + Reset
	LogBestMatch  = Green + "[Best Match]" + Reset
	LogTrackScore = Cyan + "[Track Score]" + Reset
	LogTTMLParser = Cyan + "[TTML Parser]" + Reset
	LogWarning    = Red + "[Warning]" + Reset
)

// Token log prefixes
const (
	LogBearerToken = Cyan + "[Bearer Token]" + Reset
)
