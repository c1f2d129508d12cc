package cmd

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pettai/capirca/internal/aclgen"
	"github.com/pettai/capirca/internal/iptables"
	"github.com/pettai/capirca/internal/rules"
)

var (
	dryRun      bool
	chain       string
	chainAction string
	ruleFiles   []string
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply rendered iptables filters to this host",
	RunE: func(c *cobra.Command, _ []string) error {
		return runEngine(c, (*rules.RulesEngine).Apply)
	},
}

var revertCmd = &cobra.Command{
	Use:   "revert",
	Short: "Remove the rules and chains of rendered iptables filters from this host",
	RunE: func(c *cobra.Command, _ []string) error {
		return runEngine(c, (*rules.RulesEngine).Revert)
	},
}

func init() {
	for _, c := range []*cobra.Command{applyCmd, revertCmd} {
		rootCmd.AddCommand(c)
		addPolicyFlags(c)
		c.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "log the changes without making them")
		c.Flags().StringVarP(&chain, "chain", "", "", "link the filters from this chain instead of the header's")
		c.Flags().StringVarP(&chainAction, "default-action", "", "", "override the default action of built-in chains")
		c.Flags().StringSliceVarP(&ruleFiles, "file", "f", nil, "already rendered .ipt files, used instead of policies")
	}
}

// documents yields the iptables documents to apply: the given rendered
// files, or the renderings of the configured policies.
func documents(c *cobra.Command) ([]string, error) {
	if len(ruleFiles) > 0 {
		var docs []string
		for _, f := range ruleFiles {
			data, err := os.ReadFile(f)
			if err != nil {
				return nil, errors.Wrap(err, "failed to read rules")
			}
			docs = append(docs, string(data))
		}
		return docs, nil
	}

	conf, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	loaded, err := loadPolicies(conf)
	if err != nil {
		return nil, err
	}
	var docs []string
	for _, lp := range loaded {
		ipt, err := iptables.New(lp.policy, conf.ExpInfo, aclgen.WithLogger(log.WithField("policy", lp.file)))
		if err != nil {
			return nil, errors.Wrapf(err, "policy %s", lp.file)
		}
		ipt.SetTarget(chain, chainAction)
		text, err := ipt.Render()
		if err != nil {
			return nil, errors.Wrapf(err, "policy %s", lp.file)
		}
		docs = append(docs, text)
	}
	return docs, nil
}

func runEngine(c *cobra.Command, run func(*rules.RulesEngine, string) error) error {
	docs, err := documents(c)
	if err != nil {
		return err
	}
	engine := rules.New(rules.OpenHost, log.StandardLogger())
	engine.DryRun = dryRun
	for _, doc := range docs {
		if err := run(engine, doc); err != nil {
			return err
		}
	}
	return nil
}
