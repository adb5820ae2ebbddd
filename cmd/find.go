// cmd/find.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domquery/api/schemas"
	"github.com/xkilldash9x/domquery/internal/config"
	"github.com/xkilldash9x/domquery/internal/observability"
	"github.com/xkilldash9x/domquery/pkg/browser"
	"github.com/xkilldash9x/domquery/pkg/driver"
	"github.com/xkilldash9x/domquery/pkg/query"
	"github.com/xkilldash9x/domquery/pkg/selector"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputXML  = "xml"

	describeWidth = 120
)

type findOptions struct {
	file      string
	backend   string
	headless  bool
	wait      time.Duration
	traverse  string
	output    string
	withXPath bool

	css, xpath, id, class, tag, name      string
	text, textContains                    string
	linkText, linkTextContains            string
	attribute, attributeValue, value, typ string
	checked                               bool
	criteria                              []string
}

func newFindCmd() *cobra.Command {
	opts := &findOptions{}
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Find elements in an HTML document",
		Long: `Loads an HTML document from --file or standard input and prints every
element matching all given criteria.

Criteria combine with AND. --criteria accepts keyword form, for example
--criteria text_contains=Hello --criteria attribute_value=type=checkbox.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("backend") {
				cfg.SetBrowserBackend(opts.backend)
			}
			if flags.Changed("headless") {
				cfg.SetBrowserHeadless(opts.headless)
			}
			if flags.Changed("wait") {
				cfg.SetQueryWait(opts.wait)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			switch opts.output {
			case outputText, outputJSON, outputXML:
			default:
				return fmt.Errorf("unsupported output format %q, use %s, %s or %s", opts.output, outputText, outputJSON, outputXML)
			}

			spec, err := opts.spec(flags.Changed("checked"))
			if err != nil {
				return err
			}
			markup, err := readMarkup(opts.file, cmd.InOrStdin())
			if err != nil {
				return err
			}

			result, err := runFind(cmd.Context(), cfg, spec, markup, opts)
			if err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), result, opts.output)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.file, "file", "f", "", "HTML file to load (default: standard input)")
	f.StringVar(&opts.backend, "backend", config.BackendStatic, "browser backend: static or chrome")
	f.BoolVar(&opts.headless, "headless", true, "run the chrome backend without a window")
	f.DurationVar(&opts.wait, "wait", 0, "how long to keep retrying an empty query")
	f.StringVar(&opts.traverse, "traverse", "", "traversal applied to the matches: "+strings.Join(query.TraversalNames(), ", "))
	f.StringVarP(&opts.output, "output", "o", outputText, "output format: text, json or xml")
	f.BoolVar(&opts.withXPath, "xpath-of", false, "report a location path per match when the backend supports it")

	f.StringVar(&opts.css, "css", "", "CSS selector")
	f.StringVar(&opts.xpath, "xpath", "", "XPath expression")
	f.StringVar(&opts.id, "id", "", "element id")
	f.StringVar(&opts.class, "class", "", "class name")
	f.StringVar(&opts.tag, "tag", "", "tag name")
	f.StringVar(&opts.name, "name", "", "name attribute")
	f.StringVar(&opts.text, "text", "", "exact own text, whitespace trimmed")
	f.StringVar(&opts.textContains, "text-contains", "", "substring of own text")
	f.StringVar(&opts.linkText, "link-text", "", "exact link text")
	f.StringVar(&opts.linkTextContains, "link-text-contains", "", "substring of link text")
	f.StringVar(&opts.attribute, "attribute", "", "attribute that must be present")
	f.StringVar(&opts.attributeValue, "attribute-value", "", "attribute with an exact value, as name=value")
	f.StringVar(&opts.value, "value", "", "value attribute")
	f.StringVar(&opts.typ, "type", "", "type attribute")
	f.BoolVar(&opts.checked, "checked", false, "checked state")
	f.StringArrayVar(&opts.criteria, "criteria", nil, "criterion in key=value form, repeatable")
	return cmd
}

// spec assembles criteria in a fixed flag order followed by --criteria
// entries in the order given.
func (o *findOptions) spec(checkedSet bool) (selector.Spec, error) {
	var spec selector.Spec
	add := func(v string, build func(string) selector.Criterion) {
		if v != "" {
			spec = append(spec, build(v))
		}
	}
	add(o.css, selector.CSS)
	add(o.xpath, selector.XPath)
	add(o.id, selector.ID)
	add(o.class, selector.ClassName)
	add(o.tag, selector.TagName)
	add(o.name, selector.Name)
	add(o.text, selector.Text)
	add(o.textContains, selector.TextContains)
	add(o.linkText, selector.LinkText)
	add(o.linkTextContains, selector.LinkTextContains)
	add(o.attribute, selector.Attribute)
	add(o.value, selector.Value)
	add(o.typ, selector.Type)
	if o.attributeValue != "" {
		name, value, ok := strings.Cut(o.attributeValue, "=")
		if !ok {
			return nil, fmt.Errorf("--attribute-value expects name=value, got %q", o.attributeValue)
		}
		spec = append(spec, selector.AttributeValue(name, value))
	}
	if checkedSet {
		spec = append(spec, selector.Checked(o.checked))
	}

	for _, entry := range o.criteria {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("--criteria expects key=value, got %q", entry)
		}
		extra, err := selector.FromMap(map[string]any{strings.TrimSpace(key): value})
		if err != nil {
			return nil, err
		}
		spec = append(spec, extra...)
	}
	return spec, nil
}

func readMarkup(file string, stdin io.Reader) (string, error) {
	if file == "" || file == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read standard input: %w", err)
		}
		return string(data), nil
	}
	path, err := homedir.Expand(file)
	if err != nil {
		return "", fmt.Errorf("invalid file path %q: %w", file, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// xpather is implemented by drivers that can report a location path.
type xpather interface {
	XPathOf(id driver.NodeID) (string, error)
}

func runFind(ctx context.Context, cfg config.Interface, spec selector.Spec, markup string, opts *findOptions) (*schemas.FindResult, error) {
	logger := observability.GetLogger().Named("find")

	pool := browser.NewPoolFromConfig(cfg, logger)
	defer func() {
		if err := pool.ForceQuit(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to shut down browser pool.", zap.Error(err))
		}
	}()

	backend := cfg.Browser().Backend
	lease, err := pool.Checkout(ctx, browser.Kind(backend))
	if err != nil {
		return nil, err
	}
	defer func() { _ = lease.Release(context.WithoutCancel(ctx)) }()

	doc := query.New(lease.Driver(),
		query.WithWait(cfg.Query().Wait),
		query.WithPollInterval(cfg.Query().PollInterval),
		query.WithLogger(logger),
	)
	if err := doc.Open(ctx, markup); err != nil {
		return nil, err
	}

	found, err := doc.Find(ctx, spec...)
	if err != nil {
		return nil, err
	}
	if opts.traverse != "" {
		if found, err = found.Traverse(ctx, opts.traverse); err != nil {
			return nil, err
		}
	}
	logger.Debug("Query finished.", zap.Stringer("query", spec), zap.Int("matches", found.Len()))

	result := &schemas.FindResult{
		SessionID: doc.ID(),
		Backend:   backend,
		Query:     spec.String(),
		Traversal: opts.traverse,
		Count:     found.Len(),
		Matches:   make([]schemas.Match, 0, found.Len()),
	}
	paths, _ := lease.Driver().(xpather)
	for i, e := range found.Elements() {
		m, err := describeMatch(ctx, i, e)
		if err != nil {
			return nil, err
		}
		if opts.withXPath && paths != nil {
			if m.XPath, err = paths.XPathOf(e.ID()); err != nil {
				return nil, err
			}
		}
		result.Matches = append(result.Matches, m)
	}
	return result, nil
}

func describeMatch(ctx context.Context, i int, e *query.Element) (schemas.Match, error) {
	m := schemas.Match{Index: i, Node: e.String()}
	var err error
	if m.Tag, err = e.TagName(ctx); err != nil {
		return m, err
	}
	if m.Text, err = e.Text(ctx); err != nil {
		return m, err
	}
	if m.HTML, err = e.Describe(ctx, describeWidth); err != nil {
		return m, err
	}
	return m, nil
}

func writeResult(w io.Writer, result *schemas.FindResult, format string) error {
	switch format {
	case outputJSON:
		enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case outputXML:
		return writeXML(w, result)
	}
	for _, m := range result.Matches {
		line := fmt.Sprintf("%d\t%s\t%s", m.Index, m.Tag, m.HTML)
		if m.XPath != "" {
			line += "\t" + m.XPath
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func writeXML(w io.Writer, result *schemas.FindResult) error {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("find")
	root.CreateAttr("session_id", result.SessionID)
	root.CreateAttr("backend", result.Backend)
	root.CreateAttr("count", strconv.Itoa(result.Count))
	if result.Traversal != "" {
		root.CreateAttr("traversal", result.Traversal)
	}
	root.CreateElement("query").SetText(result.Query)

	for _, m := range result.Matches {
		el := root.CreateElement("match")
		el.CreateAttr("index", strconv.Itoa(m.Index))
		el.CreateAttr("node", m.Node)
		el.CreateAttr("tag", m.Tag)
		if m.XPath != "" {
			el.CreateAttr("xpath", m.XPath)
		}
		el.CreateElement("text").SetText(m.Text)
		el.CreateElement("html").SetText(m.HTML)
	}

	doc.Indent(2)
	_, err := doc.WriteTo(w)
	return err
}
