package offer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPercentBps(t *testing.T) {
	cases := []struct {
		value string
		bps   int64
		ok    bool
	}{
		{"20%", 2000, true},
		{" 12.5 % ", 1250, true},
		{"20", 2000, true},
		{"15% off", 1500, true},
		{"0%", 0, false},
		{"-5%", 0, false},
		{"abc", 0, false},
		{"", 0, false},
		{"150%", 15000, true},
	}
	for _, tc := range cases {
		bps, ok := Offer{Value: tc.value}.PercentBps()
		require.Equal(t, tc.ok, ok, tc.value)
		require.Equal(t, tc.bps, bps, tc.value)
	}
}

func TestUnmarshalBackendRecord(t *testing.T) {
	var offers []Offer
	err := json.Unmarshal([]byte(`[
		{"offerId":"off_1","offerTitle":"Poson Sale","offerValue":"20%","isActive":true,"validTo":"2030-06-30T23:59:59"},
		{"id":"off_2","offerName":"Legacy","discountPercentage":10,"isActive":false},
		{"offerId":"off_3","offerTitle":"No flag","offerValue":"5%"}
	]`), &offers)
	require.NoError(t, err)
	require.Len(t, offers, 3)

	require.Equal(t, "Poson Sale", offers[0].Title)
	require.NotNil(t, offers[0].ValidTo)
	require.Equal(t, 2030, offers[0].ValidTo.Year())

	require.Equal(t, "off_2", offers[1].OfferID)
	require.Equal(t, "10", offers[1].Value)
	require.False(t, offers[1].Active)

	require.True(t, offers[2].Active)
}

func TestRoundTripKeepsInactiveFlag(t *testing.T) {
	in := Offer{OfferID: "o", Title: "t", Value: "10%", Active: false}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	var out Offer
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, in, out)
}

func TestResolve(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	offers := []Offer{
		{OfferID: "ok", Value: "20%", Active: true},
		{OfferID: "off", Value: "20%", Active: false},
		{OfferID: "early", Value: "20%", Active: true, ValidFrom: &future},
		{OfferID: "late", Value: "20%", Active: true, ValidTo: &past},
	}

	o, err := Resolve(offers, "", now)
	require.NoError(t, err)
	require.Nil(t, o)

	o, err = Resolve(offers, "ok", now)
	require.NoError(t, err)
	require.Equal(t, "ok", o.OfferID)

	_, err = Resolve(offers, "missing", now)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = Resolve(offers, "off", now)
	require.ErrorIs(t, err, ErrInactive)
	_, err = Resolve(offers, "early", now)
	require.ErrorIs(t, err, ErrNotStarted)
	_, err = Resolve(offers, "late", now)
	require.ErrorIs(t, err, ErrExpired)

	require.Len(t, Applicable(offers, now), 1)
}
