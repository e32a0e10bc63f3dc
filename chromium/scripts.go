package chromium

import (
	"encoding/json"
	"fmt"

	"github.com/liuxd6825/vischeck/harness"
)

// findElementJS resolves a CSS or XPath selector to its first match.
const findElementJS = `function find(sel, xpath) {
	if (xpath) {
		return document.evaluate(sel, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	}
	return document.querySelector(sel);
}`

const inspectJS = `(sel, xpath) => {
	` + findElementJS + `
	const el = find(sel, xpath);
	if (!el) {
		return {present: false};
	}
	const rect = el.getBoundingClientRect();
	let displayNone = false;
	for (let n = el; n && n.nodeType === Node.ELEMENT_NODE; n = n.parentElement) {
		if (getComputedStyle(n).display === 'none') {
			displayNone = true;
			break;
		}
	}
	const visibility = getComputedStyle(el).visibility;
	const attributes = {};
	for (const a of el.attributes) {
		attributes[a.name] = a.value;
	}
	return {
		present: true,
		width: rect.width,
		height: rect.height,
		displayNone: displayNone,
		hidden: visibility === 'hidden' || visibility === 'collapse',
		disabled: !!el.disabled || el.getAttribute('aria-disabled') === 'true',
		value: 'value' in el ? String(el.value) : '',
		attributes: attributes,
	};
}`

// setValueJS uses the native value setter so that frameworks tracking the
// property see the change, then fires the events a user edit would.
const setValueJS = `(sel, xpath, value) => {
	` + findElementJS + `
	const el = find(sel, xpath);
	if (!el) {
		throw new Error('no element matches ' + sel);
	}
	const desc = Object.getOwnPropertyDescriptor(Object.getPrototypeOf(el), 'value');
	if (desc && desc.set) {
		desc.set.call(el, value);
	} else {
		el.value = value;
	}
	el.dispatchEvent(new Event('input', {bubbles: true}));
	el.dispatchEvent(new Event('change', {bubbles: true}));
	return String(el.value);
}`

// callJS renders an immediately invoked call of fn with JSON encoded args.
func callJS(fn string, args ...interface{}) (string, error) {
	encoded := make([]byte, 0, 64)
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("encoding script argument: %w", err)
		}
		if i > 0 {
			encoded = append(encoded, ", "...)
		}
		encoded = append(encoded, b...)
	}
	return "(" + fn + ")(" + string(encoded) + ")", nil
}

func inspectScript(selector string) (string, error) {
	expr, isXPath := harness.XPath(selector)
	return callJS(inspectJS, expr, isXPath)
}

func setValueScript(selector, value string) (string, error) {
	expr, isXPath := harness.XPath(selector)
	return callJS(setValueJS, expr, isXPath, value)
}
