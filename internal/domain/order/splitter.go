package order

// Split groups pre-priced line items into one sub-order per store and
// assembles the parent order. Line items keep their cart order within each
// group, and stores appear in the order they were first encountered, so one
// splitting call always yields a stable result.
//
// Split does not reprice anything: every line item already carries the unit
// price charged at order time. A single-store cart produces an order with
// exactly one sub-order; the multi-store shape is the only shape.
func Split(items []LineItem, shipping map[string]ShippingMethod) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	var storeIDs []string
	groups := make(map[string][]LineItem)
	for _, li := range items {
		if _, seen := groups[li.StoreID]; !seen {
			storeIDs = append(storeIDs, li.StoreID)
		}
		groups[li.StoreID] = append(groups[li.StoreID], li)
	}

	o := &Order{
		StoreIDs:  storeIDs,
		SubOrders: make([]SubOrder, 0, len(storeIDs)),
	}
	for _, storeID := range storeIDs {
		method, ok := shipping[storeID]
		if !ok {
			return nil, &MissingShippingError{StoreID: storeID}
		}

		sub := buildSubOrder(storeID, groups[storeID], method)
		o.SubOrders = append(o.SubOrders, sub)
		o.TotalAmount += sub.TotalAmount
		o.TotalSavings += sub.Savings
	}

	return o, nil
}

func buildSubOrder(storeID string, items []LineItem, method ShippingMethod) SubOrder {
	sub := SubOrder{
		StoreID:        storeID,
		Items:          items,
		Shipping:       method,
		DeliveryStatus: DeliveryOrderPlaced,
		PayoutStatus:   PayoutUnset,
	}

	seenDeals := make(map[string]bool)
	for _, li := range items {
		sub.OriginalSubtotal += li.OriginalLineTotal()
		if li.Deal != nil && !seenDeals[li.Deal.DealID] {
			seenDeals[li.Deal.DealID] = true
			sub.AppliedDeals = append(sub.AppliedDeals, *li.Deal)
		}
	}

	subtotal := sub.ProductSubtotal()
	sub.TotalAmount = subtotal + method.Price

	// Savings never go negative: carts without discount data report zero.
	if sub.OriginalSubtotal > subtotal {
		sub.Savings = sub.OriginalSubtotal - subtotal
	}

	return sub
}
