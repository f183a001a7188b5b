package meter

import "github.com/ineyio/aidirector"

// NoopMeter discards routing events.
type NoopMeter struct{}

var _ aidirector.Meter = (*NoopMeter)(nil)

func (NoopMeter) OnRoute(aidirector.RouteEvent)   {}
func (NoopMeter) OnResult(aidirector.ResultEvent) {}
