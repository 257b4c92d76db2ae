package configuration

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/imilosk/blobstore/internal/feature"
)

// Version is a major/minor version pair of the form Major.Minor
// Major version upgrades indicate structure or type changes
// Minor version upgrades should be strictly additive
type Version string

// MajorMinorVersion constructs a Version from its Major and Minor components
func MajorMinorVersion(major, minor uint) Version {
	return Version(fmt.Sprintf("%d.%d", major, minor))
}

func (version Version) major() (uint, error) {
	majorPart, _, _ := strings.Cut(string(version), ".")
	v, err := strconv.ParseUint(majorPart, 10, 0)
	return uint(v), err
}

// Major returns the major version portion of a Version
func (version Version) Major() uint {
	v, _ := version.major()
	return v
}

func (version Version) minor() (uint, error) {
	_, minorPart, ok := strings.Cut(string(version), ".")
	if !ok {
		return 0, fmt.Errorf("version %q has no minor component", string(version))
	}
	v, err := strconv.ParseUint(minorPart, 10, 0)
	return uint(v), err
}

// Minor returns the minor version portion of a Version
func (version Version) Minor() uint {
	v, _ := version.minor()
	return v
}

// UnmarshalYAML implements the yaml.Unmarshaler interface
// Unmarshals a string of the form X.Y into a Version, validating that X and Y can represent unsigned integers
func (version *Version) UnmarshalYAML(unmarshal func(any) error) error {
	var versionString string
	if err := unmarshal(&versionString); err != nil {
		return err
	}

	newVersion := Version(versionString)
	if _, err := newVersion.major(); err != nil {
		return err
	}
	if _, err := newVersion.minor(); err != nil {
		return err
	}

	*version = newVersion
	return nil
}

// CurrentVersion is the most recent Version that can be parsed
var CurrentVersion = MajorMinorVersion(0, 1)

var errMissingVersion = errors.New("configuration: version is required")

type envVar struct {
	name  string
	value string
}

type envVars []envVar

func (a envVars) Len() int           { return len(a) }
func (a envVars) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a envVars) Less(i, j int) bool { return a[i].name < a[j].name }

// parser decodes a yaml document and then applies environment overrides
// named <PREFIX>_<FIELD>_<SUBFIELD>, where each segment is the yaml name of
// the field.
type parser struct {
	prefix string
	env    envVars
}

func newParser(prefix string) *parser {
	p := parser{prefix: strings.ToUpper(prefix) + "_"}

	for _, env := range os.Environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, p.prefix) {
			continue
		}
		if feature.KnownEnvVar(name) {
			continue
		}
		p.env = append(p.env, envVar{name: name, value: value})
	}

	// Parents are applied before their children, so that BLOBSTORE_LOG
	// does not clobber BLOBSTORE_LOG_LEVEL.
	sort.Sort(p.env)

	return &p
}

func (p *parser) parse(in []byte, v *Configuration) error {
	if err := yaml.Unmarshal(in, v); err != nil {
		return err
	}

	if v.Version == "" {
		return errMissingVersion
	}
	if v.Version.Major() != CurrentVersion.Major() || v.Version.Minor() > CurrentVersion.Minor() {
		return fmt.Errorf("unsupported version: %q", v.Version)
	}

	for _, env := range p.env {
		path := strings.Split(strings.TrimPrefix(env.name, p.prefix), "_")
		if err := p.overwriteFields(reflect.ValueOf(v).Elem(), env.name, path, env.value); err != nil {
			return err
		}
	}

	return nil
}

func (p *parser) overwriteFields(v reflect.Value, fullpath string, path []string, payload string) error {
	if len(path) == 0 {
		return unmarshalInto(v, fullpath, payload)
	}

	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		return p.overwriteFields(v.Elem(), fullpath, path, payload)
	case reflect.Struct:
		return p.overwriteStruct(v, fullpath, path, payload)
	case reflect.Map:
		return p.overwriteMap(v, fullpath, path, payload)
	default:
		return fmt.Errorf("%s: cannot override a %s field with a subpath", fullpath, v.Kind())
	}
}

func (p *parser) overwriteStruct(v reflect.Value, fullpath string, path []string, payload string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		name, _, _ := strings.Cut(sf.Tag.Get("yaml"), ",")
		if name == "" {
			name = sf.Name
		}
		if name == "-" || !strings.EqualFold(name, path[0]) {
			continue
		}
		if sf.Name == "Version" && len(path) == 1 && v.Type() == reflect.TypeOf(Configuration{}) {
			return fmt.Errorf("%s: version cannot be overridden from the environment", fullpath)
		}
		return p.overwriteFields(v.Field(i), fullpath, path[1:], payload)
	}
	return fmt.Errorf("%s: no configuration field %q", fullpath, strings.ToLower(path[0]))
}

func (p *parser) overwriteMap(m reflect.Value, fullpath string, path []string, payload string) error {
	if m.Type().Key().Kind() != reflect.String {
		return fmt.Errorf("%s: unsupported map key type %s", fullpath, m.Type().Key())
	}
	if m.IsNil() {
		m.Set(reflect.MakeMap(m.Type()))
	}

	key := strings.ToLower(path[0])
	elem := reflect.New(m.Type().Elem()).Elem()
	if existing := m.MapIndex(reflect.ValueOf(key)); existing.IsValid() {
		elem.Set(existing)
	}

	if len(path) > 1 && elem.Kind() == reflect.Interface {
		nested := make(map[string]any)
		if existing, ok := elem.Interface().(map[any]any); ok {
			for k, val := range existing {
				nested[fmt.Sprint(k)] = val
			}
		} else if existing, ok := elem.Interface().(map[string]any); ok {
			nested = existing
		}
		nv := reflect.ValueOf(&nested).Elem()
		if err := p.overwriteFields(nv, fullpath, path[1:], payload); err != nil {
			return err
		}
		m.SetMapIndex(reflect.ValueOf(key), nv)
		return nil
	}

	if err := p.overwriteFields(elem, fullpath, path[1:], payload); err != nil {
		return err
	}
	m.SetMapIndex(reflect.ValueOf(key), elem)
	return nil
}

func unmarshalInto(v reflect.Value, fullpath, payload string) error {
	target := reflect.New(v.Type())
	if err := yaml.Unmarshal([]byte(payload), target.Interface()); err != nil {
		return fmt.Errorf("%s: %w", fullpath, err)
	}
	v.Set(target.Elem())
	return nil
}
