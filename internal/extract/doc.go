// Package extract recovers an amount and currency token from a rendered
// checkout page.
//
// Extraction runs in two tiers. Tier one walks an ordered list of CSS
// selectors known to hold totals and stops at the first element whose text
// matches a strategy. Tier two scans the whole visible body text with every
// strategy and keeps the first candidate inside a plausible amount range. A
// page that yields nothing is a normal miss, not an error.
package extract
