// Package parser reads BPMN 2.0 XML diagrams into process models.
package parser

import (
	"bytes"
	"context"
	"fmt"
	"github.com/antchfx/xmlquery"
	"gitlab.com/shar-workflow/bpmnrt/common/logx"
	"gitlab.com/shar-workflow/bpmnrt/internal/process"
	"gitlab.com/shar-workflow/bpmnrt/internal/server/workflow"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"gitlab.com/shar-workflow/bpmnrt/server/errors/keys"
	"gitlab.com/shar-workflow/bpmnrt/server/vars"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// Loader implements workflow.ModelLoader for BPMN XML resources.
type Loader struct{}

// Load parses a deployed resource.
func (Loader) Load(ctx context.Context, name string, data []byte) ([]*process.Model, error) {
	return Parse(ctx, name, bytes.NewReader(data))
}

// Parse reads a BPMN definitions document and returns a model for every executable process in it.
func Parse(ctx context.Context, name string, rdr io.Reader) ([]*process.Model, error) {
	ctx, log := logx.ContextWith(ctx, "parser")
	doc, err := xmlquery.Parse(rdr)
	if err != nil {
		return nil, errors.Fatalf("parse %s: %s: %w", name, err.Error(), errors.ErrInvalidModel)
	}
	root := firstChild(doc, "definitions")
	if root == nil {
		return nil, errors.Fatalf("parse %s: no definitions element: %w", name, errors.ErrInvalidModel)
	}
	p := &diagram{
		messages: refs(root, "message"),
		signals:  refs(root, "signal"),
	}
	var models []*process.Model
	for _, prEl := range children(root, "process") {
		if attr(prEl, "isExecutable") == "false" {
			log.Debug("skipping process that is not executable", slog.String(keys.ProcessKey, attr(prEl, "id")))
			continue
		}
		m, err := p.process(ctx, prEl)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		models = append(models, m)
	}
	if len(models) == 0 {
		return nil, errors.Fatalf("parse %s: no executable process: %w", name, errors.ErrInvalidModel)
	}
	if err := validModels(models); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return models, nil
}

// diagram holds the root level definitions processes refer to.
type diagram struct {
	messages map[string]string
	signals  map[string]string
}

func (p *diagram) process(ctx context.Context, el *xmlquery.Node) (*process.Model, error) {
	key := attr(el, "id")
	name := attr(el, "name")
	if name == "" {
		name = key
	}
	b := workflow.NewBuilder(key, name)
	if err := p.scope(ctx, b, el); err != nil {
		return nil, fmt.Errorf("process %s: %w", key, err)
	}
	m, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("process %s: %w", key, err)
	}
	return m, nil
}

// scope adds the flow elements of a process or sub-process to b.
func (p *diagram) scope(ctx context.Context, b *workflow.Builder, container *xmlquery.Node) error {
	defaults := make(map[string]struct{})
	for _, c := range children(container, "") {
		if d := attr(c, "default"); d != "" {
			defaults[d] = struct{}{}
		}
	}
	for _, c := range children(container, "") {
		if err := p.element(ctx, b, c, defaults); err != nil {
			return err
		}
	}
	return nil
}

func (p *diagram) element(ctx context.Context, b *workflow.Builder, el *xmlquery.Node, defaults map[string]struct{}) error {
	id := attr(el, "id")
	opts := nodeOptions(el)
	switch el.Data {
	case "sequenceFlow":
		from, to := attr(el, "sourceRef"), attr(el, "targetRef")
		_, isDefault := defaults[id]
		switch cond := text(firstChild(el, "conditionExpression")); {
		case isDefault:
			b.DefaultFlow(id, from, to)
		case cond != "":
			b.ConditionalFlow(id, from, to, exprText(cond))
		default:
			b.Flow(id, from, to)
		}
		if n := attr(el, "name"); n != "" {
			b.NamedFlow(id, n)
		}
	case "startEvent":
		ev, kind, err := p.event(el)
		if err != nil {
			return fmt.Errorf("start event %s: %w", id, err)
		}
		switch kind {
		case "":
			b.StartEvent(id, opts...)
		case "message":
			b.MessageStartEvent(id, ev.Name, opts...)
		case "signal":
			b.SignalStartEvent(id, ev.Name, opts...)
		default:
			return unsupported(el, kind)
		}
	case "endEvent":
		ev, kind, err := p.event(el)
		if err != nil {
			return fmt.Errorf("end event %s: %w", id, err)
		}
		switch kind {
		case "":
			b.EndEvent(id, opts...)
		case "terminate":
			b.TerminateEndEvent(id, opts...)
		case "message":
			b.MessageEndEvent(id, ev.Name, opts...)
		case "signal":
			b.SignalEndEvent(id, ev.Name, opts...)
		default:
			return unsupported(el, kind)
		}
	case "intermediateThrowEvent":
		ev, kind, err := p.event(el)
		if err != nil {
			return fmt.Errorf("throw event %s: %w", id, err)
		}
		switch kind {
		case "":
			b.ThrowEvent(id, opts...)
		case "message":
			b.MessageThrowEvent(id, ev.Name, opts...)
		case "signal":
			b.SignalThrowEvent(id, ev.Name, opts...)
		case "link":
			b.LinkThrowEvent(id, ev.Name, opts...)
		default:
			return unsupported(el, kind)
		}
	case "intermediateCatchEvent":
		ev, kind, err := p.event(el)
		if err != nil {
			return fmt.Errorf("catch event %s: %w", id, err)
		}
		switch kind {
		case "message", "signal", "timer":
			b.CatchEvent(id, ev, opts...)
		case "link":
			b.LinkCatchEvent(id, ev.Name, opts...)
		default:
			return unsupported(el, kind)
		}
	case "boundaryEvent":
		ev, kind, err := p.event(el)
		if err != nil {
			return fmt.Errorf("boundary event %s: %w", id, err)
		}
		switch kind {
		case "message", "signal", "timer":
			b.BoundaryEvent(id, attr(el, "attachedToRef"), ev, attr(el, "cancelActivity") != "false", opts...)
		default:
			return unsupported(el, kind)
		}
	case "task":
		b.Task(id, opts...)
	case "manualTask":
		b.ManualTask(id, opts...)
	case "userTask":
		return p.userTask(b, el, opts)
	case "serviceTask":
		if d := attr(el, "delegateExpression"); d != "" {
			b.DelegateTask(id, strings.TrimPrefix(exprText(d), "="), opts...)
			return nil
		}
		b.ServiceTask(id, opts...)
	case "scriptTask":
		script := text(firstChild(el, "script"))
		if script == "" {
			return errors.Fatalf("script task %s has no script: %w", id, errors.ErrInvalidModel)
		}
		b.ScriptTask(id, script, attr(el, "resultVariable"), opts...)
	case "receiveTask":
		msg, err := p.lookup(p.messages, attr(el, "messageRef"))
		if err != nil {
			return fmt.Errorf("receive task %s: %w", id, err)
		}
		b.ReceiveTask(id, msg, opts...)
	case "exclusiveGateway":
		b.ExclusiveGateway(id, opts...)
	case "inclusiveGateway":
		b.InclusiveGateway(id, opts...)
	case "parallelGateway":
		b.ParallelGateway(id, opts...)
	case "eventBasedGateway":
		b.EventBasedGateway(id, opts...)
	case "callActivity":
		called := attr(el, "calledElement")
		if called == "" {
			if ext := firstDescendant(el, "calledElement"); ext != nil {
				called = attr(ext, "processId")
			}
		}
		in, out := mappings(el)
		b.CallActivity(id, called, in, out, opts...)
	case "subProcess":
		return p.subProcess(ctx, b, el, opts)
	default:
		if _, ok := ignored[el.Data]; ok {
			return nil
		}
		return unsupported(el, "")
	}
	return nil
}

func (p *diagram) userTask(b *workflow.Builder, el *xmlquery.Node, opts []workflow.NodeOption) error {
	task := workflow.UserTask{
		Name:          attr(el, "name"),
		Documentation: text(firstChild(el, "documentation")),
		Assignee:      exprText(attr(el, "assignee")),
		Due:           exprText(attr(el, "dueDate")),
	}
	if a := firstDescendant(el, "assignmentDefinition"); a != nil && task.Assignee == "" {
		task.Assignee = attr(a, "assignee")
	}
	if s := attr(el, "priority"); s != "" {
		pr, err := strconv.Atoi(s)
		if err != nil {
			return errors.Fatalf("user task %s has priority %q: %w", attr(el, "id"), s, errors.ErrInvalidModel)
		}
		task.Priority = pr
	}
	b.UserTask(attr(el, "id"), task, opts...)
	return nil
}

func (p *diagram) subProcess(ctx context.Context, b *workflow.Builder, el *xmlquery.Node, opts []workflow.NodeOption) error {
	id := attr(el, "id")
	var inner error
	fill := func(sb *workflow.Builder) { inner = p.scope(ctx, sb, el) }
	if attr(el, "triggeredByEvent") != "true" {
		b.SubProcess(id, fill, opts...)
		return inner
	}
	var start *xmlquery.Node
	for _, c := range children(el, "startEvent") {
		if firstEventDefinition(c) != nil {
			start = c
		}
	}
	if start == nil {
		return errors.Fatalf("event sub-process %s has no triggering start event: %w", id, errors.ErrInvalidModel)
	}
	ev, _, err := p.event(start)
	if err != nil {
		return fmt.Errorf("event sub-process %s: %w", id, err)
	}
	interrupting := attr(start, "isInterrupting") != "false"
	b.EventSubProcess(id, ev, interrupting, func(sb *workflow.Builder) {
		inner = p.eventScope(ctx, sb, el, attr(start, "id"))
	}, opts...)
	return inner
}

// eventScope is scope for an event sub-process, whose triggering start event becomes a none start event:
// the trigger is subscribed on behalf of the sub-process itself.
func (p *diagram) eventScope(ctx context.Context, b *workflow.Builder, container *xmlquery.Node, startID string) error {
	b.StartEvent(startID, nodeOptions(firstChildWithID(container, startID))...)
	defaults := make(map[string]struct{})
	for _, c := range children(container, "") {
		if d := attr(c, "default"); d != "" {
			defaults[d] = struct{}{}
		}
	}
	for _, c := range children(container, "") {
		if attr(c, "id") == startID {
			continue
		}
		if err := p.element(ctx, b, c, defaults); err != nil {
			return err
		}
	}
	return nil
}

// event reads the event definition of an event element. Kind is empty for none events.
func (p *diagram) event(el *xmlquery.Node) (workflow.EventDefinition, string, error) {
	def := firstEventDefinition(el)
	if def == nil {
		return workflow.EventDefinition{}, "", nil
	}
	switch def.Data {
	case "messageEventDefinition":
		name, err := p.lookup(p.messages, attr(def, "messageRef"))
		if err != nil {
			return workflow.EventDefinition{}, "", err
		}
		return workflow.MessageEvent(name), "message", nil
	case "signalEventDefinition":
		name, err := p.lookup(p.signals, attr(def, "signalRef"))
		if err != nil {
			return workflow.EventDefinition{}, "", err
		}
		return workflow.SignalEvent(name), "signal", nil
	case "timerEventDefinition":
		if d := text(firstChild(def, "timeDuration")); d != "" {
			return workflow.TimerDuration(exprText(d)), "timer", nil
		}
		if d := text(firstChild(def, "timeDate")); d != "" {
			return workflow.TimerDate(exprText(d)), "timer", nil
		}
		return workflow.EventDefinition{}, "", errors.Fatalf("timer %s needs a timeDuration or timeDate: %w", attr(el, "id"), errors.ErrInvalidModel)
	case "terminateEventDefinition":
		return workflow.EventDefinition{}, "terminate", nil
	case "linkEventDefinition":
		return workflow.EventDefinition{Name: attr(def, "name")}, "link", nil
	}
	return workflow.EventDefinition{}, strings.TrimSuffix(def.Data, "EventDefinition"), nil
}

func (p *diagram) lookup(names map[string]string, ref string) (string, error) {
	if ref == "" {
		return "", errors.Fatalf("missing reference: %w", errors.ErrInvalidModel)
	}
	name, ok := names[ref]
	if !ok {
		return "", errors.Fatalf("reference to unknown definition %s: %w", ref, errors.ErrInvalidModel)
	}
	return name, nil
}

// ignored lists the diagram elements with no runtime meaning.
var ignored = map[string]struct{}{
	"extensionElements":                {},
	"documentation":                    {},
	"laneSet":                          {},
	"textAnnotation":                   {},
	"association":                      {},
	"dataObject":                       {},
	"dataObjectReference":              {},
	"dataStoreReference":               {},
	"ioSpecification":                  {},
	"property":                         {},
	"incoming":                         {},
	"outgoing":                         {},
	"multiInstanceLoopCharacteristics": {},
}

func unsupported(el *xmlquery.Node, kind string) error {
	what := el.Data
	if kind != "" {
		what = kind + " " + what
	}
	return errors.Fatalf("%s %s is not supported: %w", what, attr(el, "id"), errors.ErrInvalidModel)
}

func nodeOptions(el *xmlquery.Node) []workflow.NodeOption {
	var opts []workflow.NodeOption
	if el == nil {
		return opts
	}
	if n := attr(el, "name"); n != "" {
		opts = append(opts, workflow.Named(n))
	}
	if d := text(firstChild(el, "documentation")); d != "" {
		opts = append(opts, workflow.Documented(d))
	}
	if attr(el, "asyncBefore") == "true" {
		opts = append(opts, workflow.AsyncBefore())
	}
	return opts
}

// mappings reads the in and out variable mappings of a call activity.
// Both camunda:in/out and zeebe:input/output are understood.
func mappings(el *xmlquery.Node) ([]vars.Mapping, []vars.Mapping) {
	var in, out []vars.Mapping
	ext := firstChild(el, "extensionElements")
	if ext == nil {
		return nil, nil
	}
	xmlquery.FindEach(ext, ".//*", func(_ int, n *xmlquery.Node) {
		m := vars.Mapping{Target: attr(n, "target")}
		src := attr(n, "source")
		switch {
		case isExpression(src):
			m.Expression = exprText(src)
		case src != "":
			m.Source = src
		default:
			m.Expression = exprText(attr(n, "sourceExpression"))
		}
		if m.Target == "" {
			m.Target = m.Source
		}
		if m.Target == "" || (m.Source == "" && m.Expression == "") {
			return
		}
		switch n.Data {
		case "in", "input":
			in = append(in, m)
		case "out", "output":
			out = append(out, m)
		}
	})
	return in, out
}

// exprText turns ${...} and #{...} into the engine's =... form. Other text is returned trimmed.
func exprText(s string) string {
	s = strings.TrimSpace(s)
	if (strings.HasPrefix(s, "${") || strings.HasPrefix(s, "#{")) && strings.HasSuffix(s, "}") {
		return "=" + strings.TrimSpace(s[2:len(s)-1])
	}
	return s
}

func isExpression(s string) bool {
	return strings.HasPrefix(exprText(s), "=")
}

func refs(root *xmlquery.Node, local string) map[string]string {
	ret := make(map[string]string)
	for _, el := range children(root, local) {
		name := attr(el, "name")
		if name == "" {
			name = attr(el, "id")
		}
		ret[attr(el, "id")] = name
	}
	return ret
}

// attr returns an attribute by local name, whatever its namespace prefix.
func attr(n *xmlquery.Node, local string) string {
	for _, a := range n.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func text(n *xmlquery.Node) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.InnerText())
}

// children returns the element children of n with the given local name, or all of them for an empty name.
func children(n *xmlquery.Node, local string) []*xmlquery.Node {
	var ret []*xmlquery.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && (local == "" || c.Data == local) {
			ret = append(ret, c)
		}
	}
	return ret
}

func firstChild(n *xmlquery.Node, local string) *xmlquery.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.Data == local {
			return c
		}
	}
	return nil
}

func firstChildWithID(n *xmlquery.Node, id string) *xmlquery.Node {
	for _, c := range children(n, "") {
		if attr(c, "id") == id {
			return c
		}
	}
	return nil
}

func firstDescendant(n *xmlquery.Node, local string) *xmlquery.Node {
	return xmlquery.FindOne(n, ".//*[local-name()='"+local+"']")
}

func firstEventDefinition(n *xmlquery.Node) *xmlquery.Node {
	for _, c := range children(n, "") {
		if strings.HasSuffix(c.Data, "EventDefinition") {
			return c
		}
	}
	return nil
}
