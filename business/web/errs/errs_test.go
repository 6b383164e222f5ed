package errs_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/ardanlabs/mixnode/business/web/errs"
	"github.com/ardanlabs/mixnode/foundation/validate"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Trusted(t *testing.T) {
	t.Log("Given the need to carry an HTTP status with an error.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a trusted error is wrapped again.", testID)
		{
			base := errors.New("queue full")
			err := fmt.Errorf("submit: %w", errs.NewTrusted(base, http.StatusServiceUnavailable))

			te := errs.GetTrusted(err)
			if te == nil || te.Status != http.StatusServiceUnavailable {
				t.Fatalf("\t%s\tTest %d:\tShould find the trusted error in the chain.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould find the trusted error in the chain.", success, testID)

			if !errors.Is(err, base) {
				t.Fatalf("\t%s\tTest %d:\tShould unwrap to the original error.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould unwrap to the original error.", success, testID)

			if errs.IsTrusted(base) {
				t.Fatalf("\t%s\tTest %d:\tShould not treat a plain error as trusted.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not treat a plain error as trusted.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen building a response from field errors.", testID)
		{
			resp := errs.NewFieldsResponse(validate.FieldErrors{
				{Field: "epoch", Error: "epoch must be 1 or greater"},
			})

			if resp.Fields["epoch"] != "epoch must be 1 or greater" {
				t.Fatalf("\t%s\tTest %d:\tShould key the messages by field, got %v.", failed, testID, resp.Fields)
			}
			t.Logf("\t%s\tTest %d:\tShould key the messages by field.", success, testID)
		}
	}
}
