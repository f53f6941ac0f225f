// Package models defines flow type definitions to avoid circular imports.
package models

// FlowType identifies a guided conversation flow.
type FlowType string

// Flow type constants.
const (
	FlowTypePlatformStrategy  FlowType = "platform_strategy"
	FlowTypeMetaAdsCreative   FlowType = "meta_ads_creative"
	FlowTypeGoogleAdsKeywords FlowType = "google_ads_keywords"
	FlowTypeAdCopy            FlowType = "ad_copy"
)

// FlowTypes lists the flows offered to users, in menu order.
var FlowTypes = []FlowType{
	FlowTypePlatformStrategy,
	FlowTypeMetaAdsCreative,
	FlowTypeGoogleAdsKeywords,
	FlowTypeAdCopy,
}
