package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// PushRequest is what the payment core asks the gateway to charge.
type PushRequest struct {
	PhoneNumber string
	Amount      int64
}

// STKPushRequest is the Daraja Lipa Na M-Pesa Online request body.
type STKPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// STKPushResponse is what Daraja answers when it accepts a push request.
// CheckoutRequestID is the tracking identifier echoed back in the callback.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// GatewayErrorResponse is the body Daraja returns on rejected calls.
type GatewayErrorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type AccessTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

var ErrMalformedCallback = errors.New("malformed stk callback")

type STKCallbackEnvelope struct {
	Body *struct {
		STKCallback *STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

type STKCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        *json.Number      `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

type CallbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

// ParseSTKCallback decodes a raw webhook body. Every structural problem,
// from invalid JSON to a missing tracking id or result code, is reported
// as ErrMalformedCallback so the caller can log it and still acknowledge.
func ParseSTKCallback(raw []byte) (*STKCallback, error) {
	var envelope STKCallbackEnvelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if envelope.Body == nil || envelope.Body.STKCallback == nil {
		return nil, fmt.Errorf("%w: missing Body.stkCallback", ErrMalformedCallback)
	}

	cb := envelope.Body.STKCallback
	if cb.CheckoutRequestID == "" {
		return nil, fmt.Errorf("%w: missing CheckoutRequestID", ErrMalformedCallback)
	}
	if cb.ResultCode == nil {
		return nil, fmt.Errorf("%w: missing ResultCode", ErrMalformedCallback)
	}
	if _, err := cb.Code(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	return cb, nil
}

// Code returns the numeric result code; zero means the payer approved.
func (c *STKCallback) Code() (int64, error) {
	if c.ResultCode == nil {
		return 0, errors.New("result code not set")
	}
	if n, err := c.ResultCode.Int64(); err == nil {
		return n, nil
	}
	f, err := c.ResultCode.Float64()
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("result code %q is not an integer", c.ResultCode.String())
	}
	return int64(f), nil
}

func (c *STKCallback) Succeeded() bool {
	code, err := c.Code()
	return err == nil && code == 0
}

func (c *STKCallback) Metadata(name string) (any, bool) {
	if c.CallbackMetadata == nil {
		return nil, false
	}
	for _, item := range c.CallbackMetadata.Item {
		if item.Name == name {
			return item.Value, true
		}
	}
	return nil, false
}

func (c *STKCallback) ReceiptNumber() string {
	v, ok := c.Metadata("MpesaReceiptNumber")
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
