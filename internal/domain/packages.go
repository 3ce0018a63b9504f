package domain

import "time"

// Billing types of a package.
const (
	BillingNoCost        = 0
	BillingBillOnceOnly  = 1
	BillingOnceOrCDKey   = 10
	BillingRepurchasable = 11
	BillingFreeOnDemand  = 12
	BillingRental        = 13
)

// nonStorePackages are package ids that never carry a storefront price.
var nonStorePackages = map[uint32]bool{0: true, 17906: true}

var purchasableBilling = map[int]bool{
	BillingBillOnceOnly:  true,
	BillingOnceOrCDKey:   true,
	BillingRepurchasable: true,
	BillingRental:        true,
}

// Purchasable reports whether p is sold on the storefront and so worth a
// price recheck when its metadata changes.
func (p PackageInfo) Purchasable() bool {
	return purchasableBilling[p.BillingType] && !nonStorePackages[p.ID]
}

// FreePromotion reports whether p is a claim-to-keep package with a
// promotion window that has not ended at now.
func (p PackageInfo) FreePromotion(now time.Time) bool {
	if p.BillingType != BillingFreeOnDemand || nonStorePackages[p.ID] {
		return false
	}
	if p.StartTime.IsZero() || p.ExpiryTime.IsZero() {
		return false
	}
	return p.ExpiryTime.After(now)
}
