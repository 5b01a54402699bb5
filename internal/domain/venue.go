package domain

import "fmt"

// Venue identifies an on-chain trading venue the indexer decodes.
// The set is closed: every value has exactly one decoder.
type Venue string

const (
	VenuePumpFun      Venue = "pumpfun"
	VenueRaydiumAMMV4 Venue = "raydium_amm_v4"
)

// Program IDs owned by each venue.
const (
	PumpFunProgramID      = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	RaydiumAMMV4ProgramID = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
)

// WSOLMint is the wrapped SOL mint, the quote side of every bonding curve.
const WSOLMint = "So11111111111111111111111111111111111111112"

// AllVenues lists every supported venue in decode order.
var AllVenues = []Venue{VenuePumpFun, VenueRaydiumAMMV4}

// String returns the string representation of Venue.
func (v Venue) String() string {
	return string(v)
}

// IsValid checks if the venue is a known value.
func (v Venue) IsValid() bool {
	return v == VenuePumpFun || v == VenueRaydiumAMMV4
}

// ProgramID returns the program address owned by the venue.
func (v Venue) ProgramID() string {
	switch v {
	case VenuePumpFun:
		return PumpFunProgramID
	case VenueRaydiumAMMV4:
		return RaydiumAMMV4ProgramID
	default:
		return ""
	}
}

// ParseVenue parses a venue name. "raydium" is accepted as an alias.
func ParseVenue(s string) (Venue, error) {
	switch s {
	case "pumpfun", "pump.fun", "pump":
		return VenuePumpFun, nil
	case "raydium_amm_v4", "raydium", "raydium-amm-v4":
		return VenueRaydiumAMMV4, nil
	default:
		return "", fmt.Errorf("unknown venue %q", s)
	}
}
