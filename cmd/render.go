package cmd

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render policies into filter files",
	Long:  `Render every policy for each platform its headers target, writing one file per policy and platform`,
	RunE:  renderFn,
}

func init() {
	rootCmd.AddCommand(renderCmd)
	addPolicyFlags(renderCmd)
}

func renderFn(c *cobra.Command, _ []string) error {
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}
	loaded, err := loadPolicies(conf)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(conf.Output, 0o755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}

	written := 0
	for _, lp := range loaded {
		gens, err := generators(conf, lp)
		if err != nil {
			return err
		}
		for _, g := range gens {
			text, err := g.Render()
			if err != nil {
				return errors.Wrapf(err, "policy %s", lp.file)
			}
			path := conf.OutputPath(lp.file, g.Suffix())
			if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
				return errors.Wrapf(err, "failed to write %s", path)
			}
			log.WithFields(log.Fields{"policy": lp.file, "platform": g.Platform()}).Infof("wrote %s", path)
			written++
		}
	}
	log.Infof("%d filters rendered from %d policies", written, len(loaded))
	return nil
}
