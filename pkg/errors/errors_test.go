package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestKindAndCodeMatching(t *testing.T) {
	err := ErrInvalidPrice.Explain("price must be positive")

	if !Is(err, InvalidInput) {
		t.Fatal("branch error should match its taxonomy root")
	}
	if !Is(err, ErrInvalidPrice) {
		t.Fatal("branch error should match itself")
	}
	if Is(err, ErrInvalidItemKind) {
		t.Fatal("branch error must not match a sibling branch")
	}
	if Is(err, NotFound) {
		t.Fatal("branch error must not match a different kind")
	}
}

func TestWrappedCauseIsPreserved(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := ErrSellerTransferFailed.Wrap(cause)

	if !Is(err, TransferFailure) {
		t.Fatal("wrapped error lost its kind")
	}
	if Unwrap(err) != cause {
		t.Fatal("wrapped error lost its cause")
	}
	// Wrap copies; the shared sentinel must stay pristine.
	if Unwrap(ErrSellerTransferFailed) != nil {
		t.Fatal("sentinel mutated by Wrap")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrInvalidPrice, http.StatusBadRequest},
		{ErrInvalidListingID, http.StatusNotFound},
		{ErrListingNotActive, http.StatusConflict},
		{ErrSelfPurchaseForbidden, http.StatusForbidden},
		{ErrSellerTransferFailed, http.StatusUnprocessableEntity},
		{ErrReentrantCall, http.StatusConflict},
		{fmt.Errorf("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestProblemCarriesCode(t *testing.T) {
	p := Problem(ErrFeeRateTooHigh.Explain("cap is 1000"), "/api/v1/admin/fees/rate")
	if p.Code != "FeeRateTooHigh" {
		t.Fatalf("problem code = %q", p.Code)
	}
	if p.Status != http.StatusBadRequest {
		t.Fatalf("problem status = %d", p.Status)
	}
	if p.Detail != "cap is 1000" {
		t.Fatalf("problem detail = %q", p.Detail)
	}
}

func TestProblemHidesInternalDetail(t *testing.T) {
	p := Problem(fmt.Errorf("pq: connection refused"), "/api/v1/listings")
	if p.Detail != "internal error" {
		t.Fatalf("internal error detail leaked: %q", p.Detail)
	}
	if p.Status != http.StatusInternalServerError {
		t.Fatalf("problem status = %d", p.Status)
	}
}
