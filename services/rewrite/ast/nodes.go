// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

// tree-sitter-javascript node type names.
//
// These mirror the grammar vendored by smacker/go-tree-sitter. The
// anonymous function expression node is "function" in that grammar
// revision; newer grammars call it "function_expression", so both are
// matched where function expressions are handled.
const (
	NodeProgram = "program"

	// Imports / exports
	NodeImportStatement = "import_statement"
	NodeExportStatement = "export_statement"
	NodeExportClause    = "export_clause"
	NodeExportSpecifier = "export_specifier"

	// Function-like constructs
	NodeFunctionDeclaration   = "function_declaration"
	NodeFunction              = "function"
	NodeFunctionExpression    = "function_expression"
	NodeGeneratorFunction     = "generator_function"
	NodeGeneratorFunctionDecl = "generator_function_declaration"
	NodeArrowFunction         = "arrow_function"
	NodeMethodDefinition      = "method_definition"

	// Classes and objects
	NodeClassDeclaration = "class_declaration"
	NodeClass            = "class"
	NodeClassBody        = "class_body"
	NodeFieldDefinition  = "field_definition"
	NodeObject           = "object"
	NodePair             = "pair"

	// Declarations and bindings
	NodeLexicalDeclaration  = "lexical_declaration"
	NodeVariableDeclaration = "variable_declaration"
	NodeVariableDeclarator  = "variable_declarator"
	NodeFormalParameters    = "formal_parameters"
	NodeRestPattern         = "rest_pattern"
	NodeCatchClause         = "catch_clause"

	// Expressions
	NodeIdentifier           = "identifier"
	NodePropertyIdentifier   = "property_identifier"
	NodePrivatePropertyIdent = "private_property_identifier"
	NodeCallExpression       = "call_expression"
	NodeNewExpression        = "new_expression"
	NodeMemberExpression     = "member_expression"
	NodeSubscriptExpression  = "subscript_expression"
	NodeAssignmentExpression = "assignment_expression"
	NodeAssignmentPattern    = "assignment_pattern"
	NodeParenthesizedExpr    = "parenthesized_expression"
	NodeArguments            = "arguments"
	NodeThis                 = "this"
	NodeSuper                = "super"
	NodeString               = "string"

	// Statements and structure
	NodeStatementBlock      = "statement_block"
	NodeExpressionStmt      = "expression_statement"
	NodeReturnStatement     = "return_statement"
	NodeForStatement        = "for_statement"
	NodeForInStatement      = "for_in_statement"
	NodeLabeledStatement    = "labeled_statement"
	NodeStatementIdentifier = "statement_identifier"
	NodeComment             = "comment"
	NodeError               = "ERROR"

	// Keyword tokens
	NodeAsync   = "async"
	NodeStatic  = "static"
	NodeConst   = "const"
	NodeLet     = "let"
	NodeVar     = "var"
	NodeDefault = "default"
	NodeGet     = "get"
	NodeSet     = "set"
)

// IsFunctionLike reports whether the node type introduces a function
// entity: declarations, expressions, generators, arrows, and methods.
func IsFunctionLike(nodeType string) bool {
	switch nodeType {
	case NodeFunctionDeclaration, NodeGeneratorFunctionDecl,
		NodeFunction, NodeFunctionExpression, NodeGeneratorFunction,
		NodeArrowFunction, NodeMethodDefinition:
		return true
	}
	return false
}

// IsFunctionExpression reports whether the node type is a function
// expression (named or anonymous), excluding arrows and declarations.
func IsFunctionExpression(nodeType string) bool {
	switch nodeType {
	case NodeFunction, NodeFunctionExpression, NodeGeneratorFunction:
		return true
	}
	return false
}

// IsFunctionDeclaration reports whether the node type is a hoisted
// function declaration.
func IsFunctionDeclaration(nodeType string) bool {
	return nodeType == NodeFunctionDeclaration || nodeType == NodeGeneratorFunctionDecl
}
