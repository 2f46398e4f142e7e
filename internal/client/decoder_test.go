package client

import (
	"testing"

	"github.com/feupam/feupam-checkout/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCharge_LinkShape(t *testing.T) {
	raw := []byte(`{"chargeId":"ch_1","status":"pending","amount":5000,"qrcodePix":"emv-code","payLink":"https://qr"}`)

	r, err := DecodeCharge(raw, domain.PaymentMethodPix)
	require.NoError(t, err)
	assert.Equal(t, ChargeShapeLink, r.Shape)
	assert.Equal(t, "ch_1", r.ChargeID)
	assert.Equal(t, &domain.PixPayload{QRCode: "https://qr", CopiaECola: "emv-code"}, r.Pix)
}

func TestDecodeCharge_TransactionShape(t *testing.T) {
	raw := []byte(`{"id":"ch_2","status":"pending","last_transaction":{"qr_code_url":"https://qr2","qr_code":"emv-2"}}`)

	r, err := DecodeCharge(raw, domain.PaymentMethodPix)
	require.NoError(t, err)
	assert.Equal(t, ChargeShapeTransaction, r.Shape)
	assert.Equal(t, "ch_2", r.ChargeID)
	assert.Equal(t, "emv-2", r.Pix.CopiaECola)
	assert.Equal(t, "https://qr2", r.Pix.QRCode)
}

func TestDecodeCharge_DataEnvelope(t *testing.T) {
	raw := []byte(`{"data":{"id":"ch_3","last_transaction":{"status":"paid"}}}`)

	r, err := DecodeCharge(raw, domain.PaymentMethodCreditCard)
	require.NoError(t, err)
	assert.Equal(t, "paid", r.Status)
	assert.Nil(t, r.Pix)
}

func TestDecodeCharge_CardFailureStatus(t *testing.T) {
	raw := []byte(`{"id":"ch_4","status":"failed","last_transaction":{"status":"not_authorized","acquirer_message":"Transação negada"}}`)

	r, err := DecodeCharge(raw, domain.PaymentMethodCreditCard)
	require.NoError(t, err)
	assert.True(t, r.Failed())
	assert.Equal(t, "Transação negada", r.Message)
}

func TestDecodeCharge_Unrecognized(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		method domain.PaymentMethod
	}{
		{name: "unknown object", raw: `{"foo":"bar"}`, method: domain.PaymentMethodPix},
		{name: "not json", raw: `<html>`, method: domain.PaymentMethodPix},
		{name: "pix without code", raw: `{"id":"x","last_transaction":{"status":"pending"}}`, method: domain.PaymentMethodPix},
		{name: "link shape without code", raw: `{"chargeId":"x","status":"pending"}`, method: domain.PaymentMethodPix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCharge([]byte(tt.raw), tt.method)
			assert.ErrorIs(t, err, domain.ErrUnrecognizedChargeResponse)
		})
	}
}
