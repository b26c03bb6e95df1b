package broker

import (
	"testing"
	"time"

	"nine15-trader/internal/models"
)

func optionInstrument(symbol, instrType string, strike float64) models.Instrument {
	return models.Instrument{
		Symbol:    symbol,
		Name:      "NIFTY",
		Exchange:  models.NFO,
		LotSize:   50,
		Expiry:    time.Date(2026, 3, 26, 0, 0, 0, 0, time.UTC),
		Strike:    strike,
		InstrType: instrType,
	}
}

func TestAssembleStrikesCarriesOpenInterest(t *testing.T) {
	contracts := []optionContract{
		{optionInstrument("NIFTY2632624500CE", "CE", 24500), "NFO:NIFTY2632624500CE"},
		{optionInstrument("NIFTY2632624500PE", "PE", 24500), "NFO:NIFTY2632624500PE"},
		{optionInstrument("NIFTY2632624600CE", "CE", 24600), "NFO:NIFTY2632624600CE"},
		{optionInstrument("NIFTY2632624600PE", "PE", 24600), "NFO:NIFTY2632624600PE"},
	}
	quotes := map[string]*models.Quote{
		"NFO:NIFTY2632624500CE": {LTP: 180, Volume: 90000, OI: 1200000},
		"NFO:NIFTY2632624500PE": {LTP: 120, Volume: 70000, OI: 1500000},
		"NFO:NIFTY2632624600CE": {LTP: 130, Volume: 60000, OI: 800000},
		"NFO:NIFTY2632624600PE": {LTP: 170, Volume: 50000, OI: 900000},
	}

	strikes := assembleStrikes(contracts, quotes)
	if len(strikes) != 2 {
		t.Fatalf("strikes = %d", len(strikes))
	}
	if strikes[0].Strike != 24500 || strikes[1].Strike != 24600 {
		t.Errorf("strikes not sorted: %.0f, %.0f", strikes[0].Strike, strikes[1].Strike)
	}
	if strikes[0].Call.OI != 1200000 || strikes[0].Put.OI != 1500000 {
		t.Errorf("24500 OI = call %d, put %d", strikes[0].Call.OI, strikes[0].Put.OI)
	}

	chain := &models.OptionChain{Symbol: "NIFTY", Strikes: strikes}
	pcr := chain.PCR()
	want := float64(1500000+900000) / float64(1200000+800000)
	if diff := pcr - want; diff > 0.0001 || diff < -0.0001 {
		t.Errorf("PCR = %.4f, want %.4f", pcr, want)
	}
}

func TestAssembleStrikesSkipsUnquotedContracts(t *testing.T) {
	contracts := []optionContract{
		{optionInstrument("NIFTY2632624500CE", "CE", 24500), "NFO:NIFTY2632624500CE"},
		{optionInstrument("NIFTY2632624500PE", "PE", 24500), "NFO:NIFTY2632624500PE"},
	}
	quotes := map[string]*models.Quote{
		"NFO:NIFTY2632624500CE": {LTP: 180, Volume: 90000, OI: 1000000},
	}

	strikes := assembleStrikes(contracts, quotes)
	if len(strikes) != 1 {
		t.Fatalf("strikes = %d", len(strikes))
	}
	if strikes[0].Call == nil || strikes[0].Put != nil {
		t.Errorf("expected call only, got call=%v put=%v", strikes[0].Call, strikes[0].Put)
	}
}
