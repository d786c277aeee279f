package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only changes that can be applied without a restart are broken out
// individually; everything else sets RequiresRestart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// OrdersChanged is true when any session policy field changed. New
	// sessions pick the new policy up; running sessions keep the old one.
	OrdersChanged bool
	NewOrders     OrdersConfig

	// RequiresRestart is true when the listen address, TLS material, the LLM
	// provider, the catalog path, or the journal backend changed.
	RequiresRestart bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !ordersEqual(old.Orders, new.Orders) {
		d.OrdersChanged = true
		d.NewOrders = new.Orders
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) ||
		!providersEqual(old.Providers, new.Providers) ||
		old.Catalog != new.Catalog ||
		old.Journal != new.Journal {
		d.RequiresRestart = true
	}

	return d
}

func ordersEqual(a, b OrdersConfig) bool {
	return boolPtrEqual(a.ConfirmBeforeCommit, b.ConfirmBeforeCommit) &&
		a.AutoCombine == b.AutoCombine &&
		durationPtrEqual(a.DedupWindow, b.DedupWindow) &&
		a.FuzzyThreshold == b.FuzzyThreshold &&
		a.MaxContextItems == b.MaxContextItems
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func providersEqual(a, b ProvidersConfig) bool {
	if !providerEqual(a.LLM, b.LLM) || len(a.LLMFallbacks) != len(b.LLMFallbacks) {
		return false
	}
	for i := range a.LLMFallbacks {
		if !providerEqual(a.LLMFallbacks[i], b.LLMFallbacks[i]) {
			return false
		}
	}
	return true
}

func providerEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && reflect.DeepEqual(a.Options, b.Options)
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func durationPtrEqual(a, b *Duration) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
