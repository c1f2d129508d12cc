package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/pettai/capirca/internal/aclgen"
	"github.com/pettai/capirca/internal/policy"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the terms of policies as a table",
	RunE: func(c *cobra.Command, _ []string) error {
		conf, err := loadConfig(c)
		if err != nil {
			return err
		}
		loaded, err := loadPolicies(conf)
		if err != nil {
			return err
		}
		var rows [][]string
		for _, lp := range loaded {
			rows = append(rows, inspectRows(lp, time.Now(), conf.ExpInfo)...)
		}
		printTable(os.Stdout, rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	addPolicyFlags(inspectCmd)
}

var inspectHeader = []string{"#", "Policy", "Targets", "Term", "Action", "Protocols", "Sources", "Destinations", "Expiry"}

func sideSummary(include, exclude int, any bool) string {
	s := "any"
	if !any {
		s = fmt.Sprint(include)
	}
	if exclude > 0 {
		s += fmt.Sprintf(" (-%d)", exclude)
	}
	return s
}

func expiry(t *policy.Term, now time.Time, weeks int) string {
	if t.Expiration.IsZero() {
		return ""
	}
	date := t.Expiration.Format("2006-01-02")
	switch aclgen.CheckExpiration(t.Expiration, now, weeks) {
	case aclgen.Expired:
		return date + " (expired)"
	case aclgen.Expiring:
		return date + " (expiring)"
	}
	return date
}

func inspectRows(lp loadedPolicy, now time.Time, weeks int) [][]string {
	var rows [][]string
	for _, f := range lp.policy.Filters {
		var targets []string
		for _, t := range f.Header.Targets {
			targets = append(targets, strings.TrimSpace(t.Platform+" "+strings.Join(t.Options, " ")))
		}
		for _, t := range f.Terms {
			action := string(t.Action)
			if len(t.Verbatim) > 0 {
				action = "verbatim"
			}
			protocols := strings.Join(t.Protocol, " ")
			if protocols == "" {
				protocols = "any"
			}
			rows = append(rows, []string{
				lp.file,
				strings.Join(targets, ", "),
				t.Name,
				action,
				protocols,
				sideSummary(len(t.SourceAddress), len(t.SourceAddressExclude), t.SourceAddress == nil),
				sideSummary(len(t.DestinationAddress), len(t.DestinationAddressExclude), t.DestinationAddress == nil),
				expiry(t, now, weeks),
			})
		}
	}
	return rows
}

func printTable(w io.Writer, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(inspectHeader)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetAutoMergeCellsByColumnIndex([]int{1})
	for i, row := range rows {
		table.Append(append([]string{fmt.Sprint(i + 1)}, row...))
	}
	table.Render()
}
