package wdx

import (
	"fmt"
	"strconv"
	"strings"
)

// OptionKind enumerates the option value shapes the parser recognizes.
type OptionKind int

const (
	OptionBool OptionKind = iota
	OptionCounted
	OptionUint
	OptionInt
	OptionString
	OptionCustom
)

// ArgCustomFunc converts a raw argument string into an application-defined
// value for an OptionCustom option, returning an error that the parser
// wraps into a ConfigError naming the offending option's long name.
type ArgCustomFunc func(raw string) (interface{}, error)

// OptionSpec describes one recognized option. ID is the option's identity;
// if ID falls in [A-Za-z] it is also usable as a short option letter. The
// IDs 0 (the zero rune) and '?' are reserved and may not be registered.
type OptionSpec struct {
	ID         rune
	Long       string
	Kind       OptionKind
	HasArg     bool
	ParamHint  string // e.g. "<param>" or "[param]", for help text
	Help       string
	Custom     ArgCustomFunc
}

// ParsedValue holds one option's parsed occurrence(s). String holds the
// most recent occurrence's value; Strings accumulates every occurrence, for
// options like --trace-route that are meant to repeat.
type ParsedValue struct {
	Bool    bool
	Count   int
	Uint    uint64
	Int     int64
	String  string
	Strings []string
	Custom  interface{}
}

// ArgParser is a structured long/short option parser in the style used by
// the client daemons: option identity is an integer (rune) id rather than
// a bare string flag, short options are derived from that id when it falls
// in [A-Za-z], and configuration itself is validated (duplicate ids, dead
// options, reserved ids) before any argument is parsed.
type ArgParser struct {
	programName string
	options     []OptionSpec
	byLong      map[string]*OptionSpec
	byShort     map[rune]*OptionSpec
	withHelp    bool
}

// NewArgParser constructs a parser for programName. Unless DisableHelp is
// called, a -h/--help option is registered automatically.
func NewArgParser(programName string) *ArgParser {
	p := &ArgParser{
		programName: programName,
		byLong:      make(map[string]*OptionSpec),
		byShort:     make(map[rune]*OptionSpec),
		withHelp:    true,
	}
	return p
}

// DisableHelp suppresses the automatic -h/--help option.
func (p *ArgParser) DisableHelp() *ArgParser {
	p.withHelp = false
	return p
}

// AddOption registers spec, rejecting invalid or conflicting configuration
// at registration time rather than at parse time.
func (p *ArgParser) AddOption(spec OptionSpec) error {
	if spec.ID == 0 || spec.ID == '?' {
		return NewConfigError(fmt.Sprintf("option id %q is reserved", spec.ID), nil)
	}
	if strings.ContainsAny(spec.Long, " \t\n") {
		return NewConfigError("option long name contains whitespace: "+spec.Long, nil)
	}
	usableAsShort := isShortUsable(spec.ID)
	if spec.Long == "" && !usableAsShort {
		return NewConfigError(fmt.Sprintf("option id %q is a dead option: no long name and not short-usable", spec.ID), nil)
	}
	if usableAsShort {
		if _, exists := p.byShort[spec.ID]; exists {
			return NewConfigError(fmt.Sprintf("duplicate short option %q", spec.ID), nil)
		}
	}
	if spec.Long != "" {
		if _, exists := p.byLong[spec.Long]; exists {
			return NewConfigError("duplicate long option: "+spec.Long, nil)
		}
	}
	if spec.Kind == OptionCustom && spec.Custom == nil {
		return NewConfigError("custom option missing converter: "+spec.Long, nil)
	}

	p.options = append(p.options, spec)
	stored := &p.options[len(p.options)-1]
	if usableAsShort {
		p.byShort[spec.ID] = stored
	}
	if spec.Long != "" {
		p.byLong[spec.Long] = stored
	}
	return nil
}

func isShortUsable(id rune) bool {
	return (id >= 'A' && id <= 'Z') || (id >= 'a' && id <= 'z')
}

// ParseResult is the outcome of a successful Parse: option values keyed by
// id, plus any positional (non-option) arguments.
type ParseResult struct {
	Values      map[rune]*ParsedValue
	Positionals []string
	HelpWanted  bool
}

// Parse processes argv (excluding argv[0]) against the registered options.
func (p *ArgParser) Parse(argv []string) (*ParseResult, error) {
	result := &ParseResult{Values: make(map[rune]*ParsedValue)}

	i := 0
	for i < len(argv) {
		tok := argv[i]
		switch {
		case tok == "--":
			result.Positionals = append(result.Positionals, argv[i+1:]...)
			return result, nil
		case strings.HasPrefix(tok, "--"):
			name, inlineVal, hasInline := strings.Cut(tok[2:], "=")
			spec, ok := p.resolveLong(name)
			if !ok {
				return nil, NewConfigError("unrecognized option: --"+name, nil)
			}
			consumed, err := p.consume(result, spec, inlineVal, hasInline, argv, i)
			if err != nil {
				return nil, err
			}
			i += consumed
		case strings.HasPrefix(tok, "-") && len(tok) > 1:
			spec, ok := p.resolveShort(rune(tok[1]))
			if !ok {
				return nil, NewConfigError("unrecognized option: "+tok, nil)
			}
			inlineVal := tok[2:]
			hasInline := len(inlineVal) > 0
			consumed, err := p.consume(result, spec, inlineVal, hasInline, argv, i)
			if err != nil {
				return nil, err
			}
			i += consumed
		default:
			result.Positionals = append(result.Positionals, tok)
			i++
		}
	}
	return result, nil
}

func (p *ArgParser) resolveLong(name string) (*OptionSpec, bool) {
	if p.withHelp && name == "help" {
		return &OptionSpec{ID: 'h', Long: "help", Kind: OptionBool}, true
	}
	spec, ok := p.byLong[name]
	return spec, ok
}

func (p *ArgParser) resolveShort(id rune) (*OptionSpec, bool) {
	if p.withHelp && id == 'h' {
		return &OptionSpec{ID: 'h', Long: "help", Kind: OptionBool}, true
	}
	spec, ok := p.byShort[id]
	return spec, ok
}

// consume parses one option occurrence starting at argv[i], returning how
// many tokens were consumed (including argv[i] itself).
func (p *ArgParser) consume(result *ParseResult, spec *OptionSpec, inlineVal string, hasInline bool, argv []string, i int) (int, error) {
	if spec.Long == "help" {
		result.HelpWanted = true
		return 1, nil
	}

	if spec.Kind == OptionBool {
		v := result.Values[spec.ID]
		if v == nil {
			v = &ParsedValue{}
			result.Values[spec.ID] = v
		}
		v.Bool = true
		return 1, nil
	}
	if spec.Kind == OptionCounted {
		v := result.Values[spec.ID]
		if v == nil {
			v = &ParsedValue{}
			result.Values[spec.ID] = v
		}
		v.Count++
		return 1, nil
	}

	raw := inlineVal
	consumed := 1
	if !hasInline {
		if i+1 >= len(argv) {
			return 0, NewConfigError("option requires an argument: --"+spec.Long, nil)
		}
		raw = argv[i+1]
		consumed = 2
	}

	v := result.Values[spec.ID]
	if v == nil {
		v = &ParsedValue{}
	}
	switch spec.Kind {
	case OptionUint:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, NewConfigError("invalid unsigned integer for --"+spec.Long, err)
		}
		v.Uint = n
	case OptionInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, NewConfigError("invalid integer for --"+spec.Long, err)
		}
		v.Int = n
	case OptionString:
		v.String = raw
		v.Strings = append(v.Strings, raw)
	case OptionCustom:
		converted, err := spec.Custom(raw)
		if err != nil {
			return 0, NewConfigError("invalid value for --"+spec.Long, err)
		}
		v.Custom = converted
	}
	result.Values[spec.ID] = v
	return consumed, nil
}

// Help renders enumerated usage text: program name, then each option's
// short/long form, parameter placeholder, and help text.
func (p *ArgParser) Help() string {
	var b strings.Builder
	fmt.Fprintf(&b, "usage: %s [options]\n", p.programName)
	if p.withHelp {
		fmt.Fprintf(&b, "  -h, --help\t%s\n", "Emit help, exit 0.")
	}
	for _, opt := range p.options {
		short := "  "
		if isShortUsable(opt.ID) {
			short = "-" + string(opt.ID)
		}
		long := opt.Long
		if long != "" {
			long = "--" + long
		}
		hint := opt.ParamHint
		fmt.Fprintf(&b, "  %s, %s %s\t%s\n", short, long, hint, opt.Help)
	}
	return b.String()
}
