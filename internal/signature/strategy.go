package signature

import "strings"

// Strategy identifies one candidate signature-base construction. The
// platform's signing convention is not reliably documented, so Auto
// iterates the whole table and the first matching base wins.
type Strategy int

const (
	// StrategyTemplate renders the configured base template.
	StrategyTemplate Strategy = iota
	// StrategyBody signs the raw body alone.
	StrategyBody
	// StrategyBodyTimestamp signs body|timestamp.
	StrategyBodyTimestamp
	// StrategyPathTimestampBody signs path|timestamp|body.
	StrategyPathTimestampBody
	// StrategyPartnerPathTimestamp signs partner_id|path|timestamp (the
	// documented convention for the platform's push mechanism).
	StrategyPartnerPathTimestamp
	// StrategyPartnerPathTimestampBody signs partner_id|path|timestamp|body.
	StrategyPartnerPathTimestampBody
	// StrategyShopEventTimestampBody signs shop_id|event_type|timestamp|body.
	StrategyShopEventTimestampBody
	// StrategyBodyNonce signs body|nonce.
	StrategyBodyNonce
	// StrategyAuto tries every other strategy in table order.
	StrategyAuto
)

var strategyNames = map[Strategy]string{
	StrategyTemplate:                 "template",
	StrategyBody:                     "body",
	StrategyBodyTimestamp:            "body+ts",
	StrategyPathTimestampBody:        "path+ts+body",
	StrategyPartnerPathTimestamp:     "partner+path+ts",
	StrategyPartnerPathTimestampBody: "partner+path+ts+body",
	StrategyShopEventTimestampBody:   "shop+event+ts+body",
	StrategyBodyNonce:                "body+nonce",
	StrategyAuto:                     "auto",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseStrategy maps a configuration value to a Strategy, defaulting to
// Auto for anything unrecognized.
func ParseStrategy(name string) Strategy {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range strategyNames {
		if n == name {
			return s
		}
	}
	return StrategyAuto
}

// baseParts carries every field a candidate base may be assembled from.
type baseParts struct {
	PartnerID string
	Path      string
	Timestamp string
	Body      string
	Nonce     string
	ShopID    string
	EventType string
	Secret    string
}

// concrete strategies tried by Auto, in order of observed likelihood
var autoOrder = []Strategy{
	StrategyPartnerPathTimestamp,
	StrategyPartnerPathTimestampBody,
	StrategyPathTimestampBody,
	StrategyBodyTimestamp,
	StrategyBody,
	StrategyShopEventTimestampBody,
	StrategyBodyNonce,
	StrategyTemplate,
}

// buildBase produces the exact string the HMAC is computed over for one
// strategy. Template placeholders use the {field} form.
func buildBase(s Strategy, parts baseParts, template string) string {
	switch s {
	case StrategyBody:
		return parts.Body
	case StrategyBodyTimestamp:
		return parts.Body + parts.Timestamp
	case StrategyPathTimestampBody:
		return parts.Path + "|" + parts.Timestamp + "|" + parts.Body
	case StrategyPartnerPathTimestamp:
		return parts.PartnerID + parts.Path + parts.Timestamp
	case StrategyPartnerPathTimestampBody:
		return parts.PartnerID + parts.Path + parts.Timestamp + parts.Body
	case StrategyShopEventTimestampBody:
		return parts.ShopID + "|" + parts.EventType + "|" + parts.Timestamp + "|" + parts.Body
	case StrategyBodyNonce:
		return parts.Body + parts.Nonce
	case StrategyTemplate:
		return renderTemplate(template, parts)
	default:
		return parts.Body
	}
}

func renderTemplate(template string, parts baseParts) string {
	if template == "" {
		template = "{partner_id}{path}{timestamp}{body}"
	}
	replacer := strings.NewReplacer(
		"{partner_id}", parts.PartnerID,
		"{path}", parts.Path,
		"{timestamp}", parts.Timestamp,
		"{body}", parts.Body,
		"{nonce}", parts.Nonce,
		"{shop_id}", parts.ShopID,
		"{event_type}", parts.EventType,
		"{secret}", parts.Secret,
	)
	return replacer.Replace(template)
}
