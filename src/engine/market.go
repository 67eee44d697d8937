package engine

// Market is the set of resources one market operation mutates together.
type Market struct {
	Perp   *PerpMarket
	Book   *Orderbook
	Events *EventQueue
}

// Clone stages a copy that can be mutated and later committed or dropped.
func (m *Market) Clone() *Market {
	return &Market{
		Perp:   m.Perp.Clone(),
		Book:   m.Book.Clone(),
		Events: m.Events.Clone(),
	}
}

func (m *Market) PlaceOrder(order NewOrder, now uint64) (*MatchResult, error) {
	return m.Book.Match(m.Perp, m.Events, order, now)
}

// UpdateStablePrice feeds one oracle reading into the stable price model.
func (m *Market) UpdateStablePrice(feed []byte, now uint64) (StablePriceModel, error) {
	price, err := m.Perp.OraclePrice(feed, now)
	if err != nil {
		return StablePriceModel{}, err
	}
	m.Perp.StablePriceModel.Update(price, now)
	return m.Perp.StablePriceModel, nil
}

func (m *Market) UpdateFunding(now uint64) (FundingUpdate, bool) {
	return m.Perp.UpdateFunding(m.Book, now)
}

// ConsumeEvents pops up to limit events for the settlement consumer.
func (m *Market) ConsumeEvents(limit int) []Event {
	if limit <= 0 || limit > m.Events.Len() {
		limit = m.Events.Len()
	}
	out := make([]Event, 0, limit)
	for len(out) < limit {
		ev, ok := m.Events.PopFront()
		if !ok {
			break
		}
		out = append(out, ev)
	}
	return out
}
