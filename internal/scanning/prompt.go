package scanning

// receiptScanPrompt is the shared prompt used by the LLM recognizers
const receiptScanPrompt = `You are analyzing a photo of a purchase receipt. Carefully read all text in the image and extract the following information:

1. **Total Amount**: The final total, grand total, or amount due, usually at the bottom and labeled "TOTAL", "Amount Due" or similar. Extract only the numeric value (e.g., 42.75 for $42.75).

2. **Category**: Exactly one of: Food, Transport, Shopping, Entertainment, Utilities, Other.

3. **Vendor**: The merchant, store, or business name, usually the largest text at the top.

4. **Description**: A short description of what was purchased.

Return ONLY valid JSON in this exact format:
{
  "amount": 0.00,
  "category": "Other",
  "vendor": "Store Name",
  "description": "Brief description"
}

Important:
- The amount must be a number (not a string)
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`
