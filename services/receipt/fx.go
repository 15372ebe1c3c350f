package receipt

import (
	"snapearn-rewardcore/services/referral"

	"go.uber.org/fx"
)

var Module = fx.Module("receipt.service",
	fx.Provide(
		NewService,
		func(s *Service) referral.VerifiedReceiptCounter { return s },
	),
)
