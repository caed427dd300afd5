package calculator

import (
	"sort"

	membershipdomain "github.com/aquastake/wellflow/internal/membership/domain"
	"github.com/aquastake/wellflow/internal/payout/domain"
)

// Input carries everything Compute needs. Members is the membership snapshot
// for the well, read at execution time.
type Input struct {
	GrossRevenue    int64
	AssetType       domain.AssetType
	PlatformFeeBps  int
	OperatorFeeBps  int
	PlatformAccount string
	Members         []membershipdomain.Membership
}

// Compute splits gross revenue into payout lines. Pure function: no side
// effects, deterministic for identical inputs.
//
// Fee amounts are truncated from gross revenue; whatever the truncation
// leaves over stays in the distributable pool. Investor amounts are
// truncated from the distributable pool and the final rounding remainder
// goes to the investor with the largest share (ties broken by the
// lexicographically smallest account id), so the lines always reconcile to
// gross revenue exactly.
func Compute(in Input) (domain.Result, error) {
	if in.GrossRevenue < 0 {
		return domain.Result{}, domain.ErrInvalidRevenue
	}
	if in.PlatformFeeBps < 0 || in.PlatformFeeBps > 10000 ||
		in.OperatorFeeBps < 0 || in.OperatorFeeBps > 10000 ||
		in.PlatformFeeBps+in.OperatorFeeBps > 10000 {
		return domain.Result{}, domain.ErrInvalidFeeConfig
	}

	assetType := in.AssetType
	if assetType == "" {
		assetType = domain.AssetTypeNative
	}

	var investors []membershipdomain.Membership
	operatorAccount := ""
	shareSum := 0
	for _, m := range in.Members {
		if !m.Active {
			continue
		}
		switch m.Role {
		case membershipdomain.RoleInvestor:
			investors = append(investors, m)
			shareSum += m.ShareBps
		case membershipdomain.RoleOperator:
			operatorAccount = m.AccountID
		}
	}

	platformFee := in.GrossRevenue * int64(in.PlatformFeeBps) / 10000
	operatorFee := in.GrossRevenue * int64(in.OperatorFeeBps) / 10000
	if operatorFee > 0 && operatorAccount == "" {
		return domain.Result{}, domain.ErrInvalidFeeConfig
	}
	if platformFee > 0 && in.PlatformAccount == "" {
		return domain.Result{}, domain.ErrInvalidFeeConfig
	}
	distributable := in.GrossRevenue - platformFee - operatorFee

	if distributable > 0 && len(investors) == 0 {
		return domain.Result{}, domain.ErrNoMembers
	}
	if len(investors) > 0 && shareSum != 10000 {
		// Upstream data corruption: surfaced, never silently corrected.
		return domain.Result{}, domain.ErrShareMismatch
	}

	lines := make([]domain.Line, 0, len(investors)+2)
	var distributed int64
	if len(investors) > 0 {
		amounts := make([]int64, len(investors))
		var rawSum int64
		for i, m := range investors {
			amounts[i] = distributable * int64(m.ShareBps) / 10000
			rawSum += amounts[i]
		}

		if remainder := distributable - rawSum; remainder > 0 {
			amounts[remainderIndex(investors)] += remainder
		}

		for i, m := range investors {
			if amounts[i] <= 0 {
				continue
			}
			lines = append(lines, domain.Line{
				Account:   m.AccountID,
				Recipient: domain.RecipientInvestor,
				Amount:    amounts[i],
				AssetType: assetType,
			})
			distributed += amounts[i]
		}
	}

	if platformFee > 0 {
		lines = append(lines, domain.Line{
			Account:   in.PlatformAccount,
			Recipient: domain.RecipientPlatform,
			Amount:    platformFee,
			AssetType: assetType,
		})
	}
	if operatorFee > 0 {
		lines = append(lines, domain.Line{
			Account:   operatorAccount,
			Recipient: domain.RecipientOperator,
			Amount:    operatorFee,
			AssetType: assetType,
		})
	}

	return domain.Result{
		Lines:            lines,
		Distributable:    distributable,
		PlatformFee:      platformFee,
		OperatorFee:      operatorFee,
		TotalDistributed: distributed + platformFee + operatorFee,
	}, nil
}

// remainderIndex picks the investor that absorbs the rounding remainder:
// largest share first, lexicographically smallest account id on ties.
func remainderIndex(investors []membershipdomain.Membership) int {
	idx := make([]int, len(investors))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		ia, ib := investors[idx[a]], investors[idx[b]]
		if ia.ShareBps != ib.ShareBps {
			return ia.ShareBps > ib.ShareBps
		}
		return ia.AccountID < ib.AccountID
	})
	return idx[0]
}
