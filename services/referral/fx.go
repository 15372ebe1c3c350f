package referral

import (
	"snapearn-rewardcore/services/job"

	"go.uber.org/fx"
)

var Module = fx.Module("referral.qualifier",
	fx.Provide(NewQualifier),
	fx.Invoke(registerCompletionHook),
)

// The rewarded transition rides the dispatcher's completing transaction, so a
// crash between ledger write and status flip cannot happen.
func registerCompletionHook(d *job.Dispatcher, q *Qualifier) {
	d.OnCompleted(q.HandleRewardJobCompleted)
}
