package domain

// TokenSecurity is the token-level result object returned by the security
// API. Boolean signals arrive as "0"/"1" strings, numeric signals as decimal
// strings; both are kept raw here and interpreted by the audit checks.
type TokenSecurity struct {
	IsHoneypot              string `json:"is_honeypot"`
	HoneypotWithSameCreator string `json:"honeypot_with_same_creator"`
	IsBlacklisted           string `json:"is_blacklisted"`
	Selfdestruct            string `json:"selfdestruct"`
	ExternalCall            string `json:"external_call"`
	CannotBuy               string `json:"cannot_buy"`
	CannotSellAll           string `json:"cannot_sell_all"`
	TransferPausable        string `json:"transfer_pausable"`
	TradingCooldown         string `json:"trading_cooldown"`
	HiddenOwner             string `json:"hidden_owner"`
	CanTakeBackOwnership    string `json:"can_take_back_ownership"`
	OwnerPercent            string `json:"owner_percent"`
	CreatorPercent          string `json:"creator_percent"`
	BuyTax                  string `json:"buy_tax"`
	SellTax                 string `json:"sell_tax"`
	SlippageModifiable      string `json:"slippage_modifiable"`
	AntiWhaleModifiable     string `json:"anti_whale_modifiable"`
	IsMintable              string `json:"is_mintable"`
	IsProxy                 string `json:"is_proxy"`
	IsOpenSource            string `json:"is_open_source"`
	IsInDex                 string `json:"is_in_dex"`
	LPHolderCount           string `json:"lp_holder_count"`
	LPTotalSupply           string `json:"lp_total_supply"`
	OwnerAddress            string `json:"owner_address"`
}

// RugpullOwner describes the contract owner as reported by the rugpull check.
type RugpullOwner struct {
	OwnerName    string `json:"owner_name"`
	OwnerAddress string `json:"owner_address"`
	// OwnerType is "contract", "eoa" or "blackhole" (burned).
	OwnerType string `json:"owner_type"`
}

// Rugpull is the contract-level result object from the rugpull detection
// endpoint.
type Rugpull struct {
	PrivilegeWithdraw string       `json:"privilege_withdraw"`
	WithdrawMissing   string       `json:"withdraw_missing"`
	Blacklist         string       `json:"blacklist"`
	Selfdestruct      string       `json:"selfdestruct"`
	IsProxy           string       `json:"is_proxy"`
	ApprovalAbuse     string       `json:"approval_abuse"`
	IsOpenSource      string       `json:"is_open_source"`
	Owner             RugpullOwner `json:"owner"`
}

// SecurityReport is the merge of both checks' raw data, attached to a
// candidate that passed the audit.
type SecurityReport struct {
	TokenSecurity TokenSecurity `json:"token_security"`
	Rugpull       Rugpull       `json:"rugpull"`
}
