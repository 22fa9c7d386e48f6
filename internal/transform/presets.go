package transform

import "fmt"

// PresetName identifies a supported compliance rule-table preset.
type PresetName string

const (
	// PresetPrivacyAct is the Australian Privacy Act 1988 preset.
	PresetPrivacyAct PresetName = "privacy_act"
	// PresetAUSTRAC is the AUSTRAC (AML/CTF) reporting preset.
	PresetAUSTRAC PresetName = "austrac"
	// PresetCARE is the Indigenous Data Sovereignty CARE principles preset.
	PresetCARE PresetName = "care"
)

var validPresets = map[PresetName]bool{
	PresetPrivacyAct: true,
	PresetAUSTRAC:    true,
	PresetCARE:       true,
}

// GetPreset returns the default RuleTable for a named compliance preset.
func GetPreset(name string) (RuleTable, error) {
	preset := PresetName(name)
	if !validPresets[preset] {
		return nil, fmt.Errorf("transform: unknown compliance preset: %q", name)
	}

	switch preset {
	case PresetPrivacyAct:
		return privacyActPreset(), nil
	case PresetAUSTRAC:
		return austracPreset(), nil
	case PresetCARE:
		return carePreset(), nil
	default:
		return nil, fmt.Errorf("transform: unknown compliance preset: %q", name)
	}
}

// ListPresets returns all supported preset names.
func ListPresets() []PresetName {
	return []PresetName{PresetPrivacyAct, PresetAUSTRAC, PresetCARE}
}

// privacyActPreset covers the APPs (Australian Privacy Principles): tax file
// number and health information redacted, name, email and phone masked,
// address tokenized, and the marketing profile always dropped.
func privacyActPreset() RuleTable {
	return RuleTable{
		{Path: "customer.taxFileNumber", Kind: RuleRedact},
		{Path: "customer.fullName", Kind: RuleMask},
		{Path: "customer.email", Kind: RuleMask},
		{Path: "customer.phoneNumber", Kind: RuleMask},
		{Path: "customer.address", Kind: RuleTokenize, TokenizeKeyID: "privacy-act-address"},
		{Path: "customer.marketingProfile", Kind: RuleDrop},
		{Path: "customer.healthInformation", Kind: RuleRedact},
	}
}

// austracPreset covers AML/CTF reporting obligations: transaction identity
// fields pass through for suspicious matter reporting when the caller
// carries the AUSTRAC compliance framework, otherwise they are tokenized
// (the cross-border destination is masked instead).
func austracPreset() RuleTable {
	return RuleTable{
		{Path: "transaction.counterpartyName", Kind: RulePass, RequiredCompliance: "AUSTRAC",
			FallbackKind: RuleTokenize, TokenizeKeyID: "austrac-counterparty"},
		{Path: "transaction.sourceOfFunds", Kind: RulePass, RequiredCompliance: "AUSTRAC",
			FallbackKind: RuleTokenize, TokenizeKeyID: "austrac-source-of-funds"},
		{Path: "transaction.crossBorderDestination", Kind: RulePass, RequiredCompliance: "AUSTRAC",
			FallbackKind: RuleMask},
	}
}

// carePreset implements the Collective benefit, Authority to control,
// Responsibility, and Ethics principles for Indigenous data: fields tagged
// indigenous_cultural or sacred are resolved entirely by the engine's
// sovereignty override, so this preset only covers community-identifying
// metadata that accompanies them.
func carePreset() RuleTable {
	return RuleTable{
		{Path: "record.communityId", Kind: RuleMask},
		{Path: "record.traditionalOwners", Kind: RuleTokenize, TokenizeKeyID: "care-traditional-owners"},
	}
}
