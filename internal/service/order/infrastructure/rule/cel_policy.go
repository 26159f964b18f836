package rule

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"stockflow/internal/service/order/domain"
)

// CELAdmissionPolicy 是 port.AdmissionPolicy 的 CEL 实现。
// 每条规则是一个返回 bool 的表达式，可用变量: orderId (string), productName (string), quantity (int)。
// 例如: "quantity <= 100", "!productName.startsWith('Discontinued')"
type CELAdmissionPolicy struct {
	rules []compiledRule
}

type compiledRule struct {
	expr    string
	program cel.Program
}

// NewCELAdmissionPolicy 在启动时编译所有规则，任何一条编译失败都会返回错误。
func NewCELAdmissionPolicy(expressions []string) (*CELAdmissionPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("orderId", cel.StringType),
		cel.Variable("productName", cel.StringType),
		cel.Variable("quantity", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}

	p := &CELAdmissionPolicy{}
	for _, expr := range expressions {
		ast, iss := env.Compile(expr)
		if iss.Err() != nil {
			return nil, fmt.Errorf("compile admission rule %q: %w", expr, iss.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("admission rule %q must evaluate to bool, got %v", expr, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("build admission rule %q: %w", expr, err)
		}
		p.rules = append(p.rules, compiledRule{expr: expr, program: prg})
	}
	return p, nil
}

// Check 依次评估所有规则，第一条不通过的规则决定拒绝原因
func (p *CELAdmissionPolicy) Check(ctx context.Context, order *domain.Order) error {
	vars := map[string]interface{}{
		"orderId":     order.ID,
		"productName": order.ProductName,
		"quantity":    int64(order.Quantity),
	}
	for _, r := range p.rules {
		out, _, err := r.program.ContextEval(ctx, vars)
		if err != nil {
			return &domain.ValidationError{Field: "policy", Message: fmt.Sprintf("rule %q could not be evaluated: %v", r.expr, err)}
		}
		if ok, _ := out.Value().(bool); !ok {
			return &domain.ValidationError{Field: "policy", Message: fmt.Sprintf("rejected by rule %q", r.expr)}
		}
	}
	return nil
}

// Len 返回已加载的规则数
func (p *CELAdmissionPolicy) Len() int {
	return len(p.rules)
}
