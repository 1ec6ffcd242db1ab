package audit

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/justbytes/evmsniper/internal/domain"
)

// Check names used in verdicts, logs and metrics.
const (
	CheckTokenSecurity = "token_security"
	CheckRugpull       = "rugpull"
)

// Policy holds the configurable screening thresholds.
type Policy struct {
	// MaxTaxPercent is the highest acceptable buy or sell tax.
	MaxTaxPercent decimal.Decimal
	// MaxHolderPercent is the highest acceptable owner/creator supply share.
	MaxHolderPercent decimal.Decimal
}

// DefaultPolicy returns the stock thresholds: 10% tax, 10% holder share.
func DefaultPolicy() Policy {
	return Policy{
		MaxTaxPercent:    decimal.NewFromInt(10),
		MaxHolderPercent: decimal.NewFromInt(10),
	}
}

// burned owner addresses commonly used to renounce ownership
var burnedOwners = map[string]struct{}{
	"":       {},
	"0x0000000000000000000000000000000000000000": {},
	"0x000000000000000000000000000000000000dead": {},
}

func flagSet(v string) bool {
	return v == "1"
}

// exceeds parses a decimal-string signal and compares it to the limit.
// Absent and unparseable values fail closed.
func exceeds(value string, limit decimal.Decimal) bool {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return true
	}
	return d.GreaterThan(limit)
}

func isZeroish(value string) bool {
	if value == "" {
		return true
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return true
	}
	return d.IsZero()
}

// EvaluateTokenSecurity applies the token-level screening rules and returns
// every violated rule. An empty slice means the check passed.
func EvaluateTokenSecurity(sec domain.TokenSecurity, policy Policy) []string {
	var reasons []string

	boolFlags := []struct {
		set    bool
		reason string
	}{
		{flagSet(sec.IsHoneypot), "token is a honeypot"},
		{flagSet(sec.HoneypotWithSameCreator), "creator has deployed honeypots before"},
		{flagSet(sec.IsBlacklisted), "token is blacklisted"},
		{flagSet(sec.Selfdestruct), "contract can self-destruct"},
		{flagSet(sec.ExternalCall), "contract makes external calls"},
		{flagSet(sec.CannotBuy), "token cannot be bought"},
		{flagSet(sec.CannotSellAll), "full balance cannot be sold"},
		{flagSet(sec.TransferPausable), "transfers are pausable"},
		{flagSet(sec.TradingCooldown), "trading cooldown in place"},
		{flagSet(sec.HiddenOwner), "owner is hidden"},
		{flagSet(sec.CanTakeBackOwnership), "ownership can be reclaimed"},
		{flagSet(sec.SlippageModifiable), "slippage rules are modifiable"},
		{flagSet(sec.AntiWhaleModifiable), "anti-whale rules are modifiable"},
		{flagSet(sec.IsMintable), "supply is mintable"},
		{flagSet(sec.IsProxy), "contract is a proxy"},
	}
	for _, f := range boolFlags {
		if f.set {
			reasons = append(reasons, f.reason)
		}
	}

	if !flagSet(sec.IsOpenSource) {
		reasons = append(reasons, "contract is not open source")
	}
	if !flagSet(sec.IsInDex) {
		reasons = append(reasons, "token is not listed on any dex")
	}

	if exceeds(sec.OwnerPercent, policy.MaxHolderPercent.Div(decimal.NewFromInt(100))) {
		reasons = append(reasons, fmt.Sprintf("owner holds more than %s%% of supply", policy.MaxHolderPercent))
	}
	if exceeds(sec.CreatorPercent, policy.MaxHolderPercent.Div(decimal.NewFromInt(100))) {
		reasons = append(reasons, fmt.Sprintf("creator holds more than %s%% of supply", policy.MaxHolderPercent))
	}

	// taxes are reported as whole percents
	if exceeds(sec.BuyTax, policy.MaxTaxPercent) {
		reasons = append(reasons, fmt.Sprintf("buy tax above %s%%", policy.MaxTaxPercent))
	}
	if exceeds(sec.SellTax, policy.MaxTaxPercent) {
		reasons = append(reasons, fmt.Sprintf("sell tax above %s%%", policy.MaxTaxPercent))
	}

	if isZeroish(sec.LPHolderCount) {
		reasons = append(reasons, "no LP holders")
	}
	if isZeroish(sec.LPTotalSupply) {
		reasons = append(reasons, "no LP supply")
	}

	if _, burned := burnedOwners[strings.ToLower(sec.OwnerAddress)]; !burned {
		reasons = append(reasons, "owner address is still active")
	}

	return reasons
}

// EvaluateRugpull applies the contract-level rugpull rules and returns every
// violated rule. An empty slice means the check passed.
func EvaluateRugpull(r domain.Rugpull) []string {
	var reasons []string

	boolFlags := []struct {
		set    bool
		reason string
	}{
		{flagSet(r.PrivilegeWithdraw), "privileged withdraw capability"},
		{flagSet(r.WithdrawMissing), "withdraw function is missing"},
		{flagSet(r.Blacklist), "blacklist capability"},
		{flagSet(r.Selfdestruct), "contract can self-destruct"},
		{flagSet(r.IsProxy), "contract is a proxy"},
		{flagSet(r.ApprovalAbuse), "approval abuse pattern"},
	}
	for _, f := range boolFlags {
		if f.set {
			reasons = append(reasons, f.reason)
		}
	}

	if !flagSet(r.IsOpenSource) {
		reasons = append(reasons, "contract is not open source")
	}

	switch strings.ToLower(r.Owner.OwnerType) {
	case "blackhole", "":
		// burned or absent owner is the only acceptable state
	case "contract":
		if _, burned := burnedOwners[strings.ToLower(r.Owner.OwnerAddress)]; !burned {
			reasons = append(reasons, "owner is a contract")
		}
	default:
		reasons = append(reasons, "owner is an externally owned account")
	}

	return reasons
}
