package cmd

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pettai/capirca/internal/aclgen"
	"github.com/pettai/capirca/internal/config"
	"github.com/pettai/capirca/internal/naming"
	"github.com/pettai/capirca/internal/policy"
)

var (
	configFile  string
	definitions string
	policies    []string
	output      string
	expInfo     int
	platforms   []string
)

// addPolicyFlags registers the flags shared by every command that loads
// policies. Flags override the config file.
func addPolicyFlags(c *cobra.Command) {
	c.Flags().StringVarP(&configFile, "config", "c", "", "path to the aclgen config file")
	c.Flags().StringVarP(&definitions, "definitions", "", "", "directory of network and service definitions")
	c.Flags().StringSliceVarP(&policies, "policy", "p", nil, "policy file or directory, may be repeated")
	c.Flags().StringVarP(&output, "output", "o", "", "directory to write rendered filters to")
	c.Flags().IntVarP(&expInfo, "exp-info", "", aclgen.DEFAULT_EXP_INFO, "weeks before expiration to report expiring terms")
	c.Flags().StringSliceVarP(&platforms, "platform", "", nil, "only render these platforms")
	_ = c.MarkFlagFilename("config", "*.yaml", "*.yml")
}

func loadConfig(c *cobra.Command) (*config.AppConfig, error) {
	conf := &config.AppConfig{Output: config.DEFAULT_OUTPUT, ExpInfo: aclgen.DEFAULT_EXP_INFO}
	if configFile != "" {
		var err error
		if conf, err = config.Load(configFile); err != nil {
			return nil, err
		}
	}
	flags := c.Flags()
	if flags.Changed("definitions") {
		conf.Definitions = definitions
	}
	if flags.Changed("policy") {
		conf.Policies = policies
	}
	if flags.Changed("output") {
		conf.Output = output
	}
	if flags.Changed("exp-info") {
		conf.ExpInfo = expInfo
	}
	if flags.Changed("platform") {
		for _, p := range platforms {
			if _, ok := aclgen.Lookup(p); !ok {
				return nil, errors.Errorf("unsupported platform %s", p)
			}
		}
		conf.Platforms = platforms
	}
	return conf, conf.Validate()
}

type loadedPolicy struct {
	file   string
	policy *policy.Policy
}

func loadPolicies(conf *config.AppConfig) ([]loadedPolicy, error) {
	defs, err := naming.Load(conf.Definitions)
	if err != nil {
		return nil, err
	}
	files, err := conf.PolicyFiles()
	if err != nil {
		return nil, err
	}
	var out []loadedPolicy
	for _, f := range files {
		pol, err := policy.LoadFile(f, defs)
		if err != nil {
			return nil, err
		}
		log.WithField("policy", f).Debugf("loaded %d filters", len(pol.Filters))
		out = append(out, loadedPolicy{file: f, policy: pol})
	}
	return out, nil
}

// generators builds a document for every enabled platform pol targets.
func generators(conf *config.AppConfig, lp loadedPolicy) ([]aclgen.Generator, error) {
	var out []aclgen.Generator
	for _, p := range lp.policy.Platforms() {
		if !conf.Renders(p) {
			continue
		}
		factory, ok := aclgen.Lookup(p)
		if !ok {
			log.WithField("policy", lp.file).Warnf("no renderer for platform %s, skipping", p)
			continue
		}
		g, err := factory(lp.policy, conf.ExpInfo, aclgen.WithLogger(log.WithField("policy", lp.file)))
		if err != nil {
			return nil, errors.Wrapf(err, "policy %s", lp.file)
		}
		out = append(out, g)
	}
	return out, nil
}
