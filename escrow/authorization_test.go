package escrow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthorizeRelease(t *testing.T) {
	acc := &Account{DepositorID: "dep", BeneficiaryID: "ben"}
	cases := []struct {
		approvers []string
		allowed   bool
	}{
		{[]string{"dep", "ben"}, true},
		{[]string{"ben", "dep"}, true},
		{[]string{" dep ", "ben"}, true},
		{[]string{"arb"}, true},
		{[]string{"ben", "arb"}, true},
		{[]string{"dep"}, false},
		{[]string{"ben"}, false},
		{[]string{"ben", "ben"}, false},
		{[]string{"", " "}, false},
		{nil, false},
	}
	for _, tc := range cases {
		err := AuthorizeRelease(acc, tc.approvers)
		if tc.allowed {
			require.NoError(t, err, "%v", tc.approvers)
			continue
		}
		require.ErrorIs(t, err, ErrForbidden, "%v", tc.approvers)
	}
}

func TestAuthorizeReleaseNilAccount(t *testing.T) {
	require.ErrorIs(t, AuthorizeRelease(nil, []string{"x"}), ErrInvalidRequest)
}

func TestNormalizeApprovers(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, normalizeApprovers([]string{" a", "", "b", "a "}))
	require.Empty(t, normalizeApprovers(nil))
}
