package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Plan describes a sellable product the console knows about, keyed by the
// processor product id. The catalog is only a projection aid: product names
// resolved from here when the processor lookup is unavailable, plus the
// credit grant attached to credit-pack products.
type Plan struct {
	ProductID string `mapstructure:"productId"`
	Name      string `mapstructure:"name"`
	Credits   int64  `mapstructure:"credits"`
}

type PlanCatalog struct {
	Plans []Plan `mapstructure:"plans"`
}

func DefaultPlanCatalog() PlanCatalog {
	return PlanCatalog{
		Plans: []Plan{
			{ProductID: "prod_free", Name: "Free"},
			{ProductID: "prod_pro", Name: "Pro"},
			{ProductID: "prod_enterprise", Name: "Enterprise"},
		},
	}
}

// PlanCatalogHolder keeps the plan catalog hot-reloadable.
type PlanCatalogHolder struct {
	current atomic.Value // holds PlanCatalog
}

func NewPlanCatalogHolder() (*PlanCatalogHolder, error) {
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/billingd/config") // Volume-mounted config
	v.AddConfigPath("/etc/billingd")            // System config
	v.AddConfigPath(".")                        // Current directory (dev mode)

	v.SetEnvPrefix("BILLINGD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultPlanCatalog()
		v.SetDefault("catalog.plans", defaults.Plans)
	}

	var catalog PlanCatalog
	if err := v.UnmarshalKey("catalog", &catalog); err != nil {
		return nil, err
	}
	if err := validatePlanCatalog(catalog); err != nil {
		return nil, err
	}

	holder := &PlanCatalogHolder{}
	holder.current.Store(catalog)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PlanCatalog
		if err := v.UnmarshalKey("catalog", &updated); err != nil {
			log.Printf("[plan-catalog] reload failed: %v", err)
			return
		}
		if err := validatePlanCatalog(updated); err != nil {
			log.Printf("[plan-catalog] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[plan-catalog] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PlanCatalogHolder) Get() PlanCatalog {
	return h.current.Load().(PlanCatalog)
}

// Lookup returns the plan for a processor product id, if the catalog has one.
func (h *PlanCatalogHolder) Lookup(productID string) (Plan, bool) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Plan{}, false
	}
	for _, plan := range h.Get().Plans {
		if plan.ProductID == productID {
			return plan, true
		}
	}
	return Plan{}, false
}

func validatePlanCatalog(catalog PlanCatalog) error {
	if len(catalog.Plans) == 0 {
		return errors.New("catalog.plans cannot be empty")
	}
	for _, plan := range catalog.Plans {
		if strings.TrimSpace(plan.ProductID) == "" {
			return errors.New("catalog.plans entries require a productId")
		}
	}
	return nil
}
